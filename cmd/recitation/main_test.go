package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/recitation/internal/model"
	"github.com/pavelanni/recitation/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeBank(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	csv := "单词,释义\nSession 1,\navoid,避免\nplate,盘子\nSession 2,\nsharp,尖锐的\n"
	if err := os.WriteFile(filepath.Join(dir, "R200_快反.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestBankCommand(t *testing.T) {
	dir := writeBank(t)

	out, err := execute(t, "bank", "--bank-dir", dir)
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	for _, want := range []string{"UNIT", "R200", "1", "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "bank", "--bank-dir", dir, "--unit", "R200", "--session", "1")
	if err != nil {
		t.Fatalf("bank --unit: %v", err)
	}
	var cards []model.Card
	if err := json.Unmarshal([]byte(out), &cards); err != nil {
		t.Fatalf("decode cards %q: %v", out, err)
	}
	if len(cards) != 2 || cards[1] != (model.Card{CardIndex: 1, Question: "plate", ExpectedAnswer: "盘子"}) {
		t.Errorf("unexpected cards: %+v", cards)
	}

	if _, err := execute(t, "bank", "--bank-dir", dir, "--unit", "R200", "--session", "3"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestUserAddCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	if _, err := execute(t, "user", "add", "wang", "--db", dbPath, "--password", "s3cret", "--role", "admin"); err != nil {
		t.Fatalf("user add: %v", err)
	}
	if _, err := execute(t, "user", "add", "wang", "--db", dbPath, "--password", "other"); err == nil {
		t.Error("expected error for duplicate user")
	}
	if _, err := execute(t, "user", "add", "li", "--db", dbPath, "--password", "x", "--role", "student"); err == nil {
		t.Error("expected error for invalid role")
	}

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	u, err := s.GetUserByUsername("wang")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername: %v, %v", u, err)
	}
	if u.Role != model.UserRoleAdmin || u.DisplayName != "wang" || !u.Active {
		t.Errorf("unexpected user: %+v", u)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("s3cret")); err != nil {
		t.Error("stored hash does not match password")
	}
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, student := range []string{"stu-1", "stu-2"} {
		task, err := s.CreateTask(model.EvaluationRequest{StudentID: student, UnitID: "R200", SessionIndex: 1, AudioPath: "a.wav"})
		if err != nil {
			t.Fatal(err)
		}
		if student == "stu-2" {
			if err := s.FailTask(task.ID, "reference not found for R200/1"); err != nil {
				t.Fatal(err)
			}
		}
	}
	s.Close()

	outPath := filepath.Join(dir, "export.json")
	if _, err := execute(t, "export", "--db", dbPath, "--status", "failed", "-o", outPath); err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	var export model.TaskExport
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if export.NumTasks != 1 || export.Results[0].StudentID != "stu-2" || export.Results[0].Error == "" {
		t.Errorf("unexpected export: %+v", export)
	}
}
