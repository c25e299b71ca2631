package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		want     string
		wantErr  bool
	}{
		{"default", "", "whisper", false},
		{"whisper", "Whisper", "whisper", false},
		{"sidecar", "sidecar", "sidecar", false},
		{"unknown", "fpt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(Config{Provider: tt.provider})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
			}
		})
	}
}

func TestSidecar(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "stu-1.m4a")
	writeFile(t, audio, "fake audio")
	writeFile(t, SidecarPath(audio), `{
		"text": " avoid 避免 plate 盘子 ",
		"words": [
			{"text": "avoid", "start": 800, "end": 1200},
			{"text": "避免", "start": 1500, "end": 2000}
		]
	}`)

	tr, err := NewSidecar().Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "avoid 避免 plate 盘子" {
		t.Errorf("text = %q", tr.Text)
	}
	if len(tr.Words) != 2 || tr.Words[1].Text != "避免" || tr.Words[1].StartMS != 1500 || tr.Words[1].EndMS != 2000 {
		t.Errorf("unexpected words: %+v", tr.Words)
	}
}

func TestSidecarErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing audio", func(t *testing.T) {
		_, err := NewSidecar().Transcribe(context.Background(), filepath.Join(dir, "nope.wav"))
		if !errors.Is(err, ErrAudioNotFound) {
			t.Errorf("expected ErrAudioNotFound, got %v", err)
		}
	})

	t.Run("missing transcript", func(t *testing.T) {
		audio := filepath.Join(dir, "a.wav")
		writeFile(t, audio, "x")
		_, err := NewSidecar().Transcribe(context.Background(), audio)
		if err == nil || !strings.Contains(err.Error(), "no transcript") {
			t.Errorf("expected missing transcript error, got %v", err)
		}
	})

	t.Run("malformed transcript", func(t *testing.T) {
		audio := filepath.Join(dir, "b.wav")
		writeFile(t, audio, "x")
		writeFile(t, SidecarPath(audio), "{not json")
		if _, err := NewSidecar().Transcribe(context.Background(), audio); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("inverted word timing", func(t *testing.T) {
		audio := filepath.Join(dir, "c.wav")
		writeFile(t, audio, "x")
		writeFile(t, SidecarPath(audio), `{"text":"a","words":[{"text":"a","start":900,"end":100}]}`)
		if _, err := NewSidecar().Transcribe(context.Background(), audio); err == nil {
			t.Error("expected timing error")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := NewSidecar().Transcribe(ctx, filepath.Join(dir, "a.wav")); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestWhisper(t *testing.T) {
	var gotPath, gotFormat, gotGranularity string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotFormat = r.FormValue("response_format")
		gotGranularity = r.FormValue("timestamp_granularities[]")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"task": "transcribe",
			"language": "english",
			"duration": 9.5,
			"text": "avoid 避免 sharp shop",
			"words": [
				{"word": "avoid", "start": 0.8, "end": 1.2},
				{"word": " shop", "start": 5.2, "end": 6.1004}
			]
		}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "stu.wav")
	writeFile(t, audio, "RIFF fake")

	tr, err := NewWhisper(srv.URL+"/v1", "test-key", "", "en").Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q", gotFormat)
	}
	if gotGranularity != "word" {
		t.Errorf("timestamp granularity = %q", gotGranularity)
	}
	if tr.Text != "avoid 避免 sharp shop" {
		t.Errorf("text = %q", tr.Text)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(tr.Words))
	}
	if w := tr.Words[1]; w.Text != "shop" || w.StartMS != 5200 || w.EndMS != 6100 {
		t.Errorf("unexpected converted word: %+v", w)
	}
}

func TestWhisperMissingAudio(t *testing.T) {
	_, err := NewWhisper("http://127.0.0.1:1/v1", "k", "", "").Transcribe(context.Background(), "/no/such/file.wav")
	if !errors.Is(err, ErrAudioNotFound) {
		t.Errorf("expected ErrAudioNotFound, got %v", err)
	}
}

func TestSecondsToMS(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{0.8, 800},
		{1.2345, 1235},
		{6.1004, 6100},
	}
	for _, tt := range tests {
		if got := secondsToMS(tt.in); got != tt.want {
			t.Errorf("secondsToMS(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
