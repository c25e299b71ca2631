package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/recitation/internal/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a task id is unknown.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a transition is not defined
	// from the task's current status. It signals a programming error.
	ErrInvalidTransition = errors.New("invalid task transition")
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are private to the connection that created them.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluation_tasks (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		session_index INTEGER NOT NULL,
		audio_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		result TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_student ON evaluation_tasks(student_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON evaluation_tasks(status);

	CREATE TABLE IF NOT EXISTS teacher_reviews (
		task_id TEXT PRIMARY KEY,
		final_grade TEXT NOT NULL,
		teacher_comment TEXT NOT NULL DEFAULT '',
		reviewed_by TEXT NOT NULL,
		reviewed_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES evaluation_tasks(id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('teacher', 'admin')),
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const taskColumns = `id, student_id, unit_id, session_index, audio_path, status, result, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var result sql.NullString
	err := row.Scan(&t.ID, &t.StudentID, &t.UnitID, &t.SessionIndex, &t.AudioPath,
		&t.Status, &result, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	return t, nil
}

// CreateTask persists a new PENDING task and returns it.
func (s *Store) CreateTask(req model.EvaluationRequest) (model.Task, error) {
	now := time.Now().UTC()
	t := model.Task{
		ID:           uuid.NewString(),
		StudentID:    req.StudentID,
		UnitID:       req.UnitID,
		SessionIndex: req.SessionIndex,
		AudioPath:    req.AudioPath,
		Status:       model.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.Exec(
		`INSERT INTO evaluation_tasks (id, student_id, unit_id, session_index, audio_path, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StudentID, t.UnitID, t.SessionIndex, t.AudioPath, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		slog.Error("failed to create task", "student_id", req.StudentID, "error", err)
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// GetTask returns the latest committed snapshot of a task.
func (s *Store) GetTask(id string) (model.Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM evaluation_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(f model.TaskFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM evaluation_tasks WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.StudentID != "" {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.UnitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, f.UnitID)
	}
	if len(f.TaskIDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(", ?", len(f.TaskIDs)-1) + `)`
		for _, id := range f.TaskIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// BeginTask moves a PENDING task to PROCESSING. It reports false without
// error when the task has already left PENDING, so a duplicate pipeline
// run against the same id stops here.
func (s *Store) BeginTask(id string) (bool, error) {
	ok, err := s.transition(id, nil, model.StatusProcessing, model.StatusPending)
	if errors.Is(err, ErrInvalidTransition) {
		return false, nil
	}
	return ok, err
}

// SucceedTask stores the report of a PROCESSING task and moves it to
// AWAITING_TEACHER_REVIEW.
func (s *Store) SucceedTask(id string, report model.DiagnosticReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.transition(id, data, model.StatusAwaitingTeacherReview, model.StatusProcessing)
	return err
}

// FailTask stores {"error": message} and moves a PENDING or PROCESSING task to FAILED.
func (s *Store) FailTask(id, message string) error {
	data, err := json.Marshal(model.FailureResult{Error: message})
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	_, err = s.transition(id, data, model.StatusFailed, model.StatusPending, model.StatusProcessing)
	return err
}

// transition applies a status change in one conditional UPDATE so readers
// see either the old or the new row, never a partial one.
func (s *Store) transition(id string, result []byte, to model.TaskStatus, from ...model.TaskStatus) (bool, error) {
	query := `UPDATE evaluation_tasks SET status = ?, updated_at = ?`
	args := []any{to, time.Now().UTC()}
	if result != nil {
		query += `, result = ?`
		args = append(args, string(result))
	}
	query += ` WHERE id = ? AND status IN (?` + strings.Repeat(", ?", len(from)-1) + `)`
	args = append(args, id)
	for _, st := range from {
		args = append(args, st)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("update task %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		slog.Debug("task transition", "task_id", id, "status", to)
		return true, nil
	}

	current, err := s.GetTask(id)
	if err != nil {
		return false, err
	}
	return false, fmt.Errorf("%w: %s -> %s for task %s", ErrInvalidTransition, current.Status, to, id)
}
