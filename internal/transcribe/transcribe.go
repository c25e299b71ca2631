// Package transcribe turns a student's recording into text with word timings.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pavelanni/recitation/internal/model"
)

// ErrAudioNotFound is returned when the recording does not exist.
var ErrAudioNotFound = errors.New("audio file not found")

// Provider is a speech-to-text engine.
type Provider interface {
	// Transcribe returns the transcript of the recording at audioPath.
	Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error)

	// Name returns the provider name (e.g. "whisper", "sidecar").
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider string // whisper or sidecar
	BaseURL  string
	APIKey   string
	Model    string
	Language string
}

// New creates the provider named in cfg.
func New(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = "whisper"
		slog.Info("transcription provider not set, defaulting to whisper")
	}

	switch name {
	case "whisper":
		return NewWhisper(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Language), nil
	case "sidecar":
		return NewSidecar(), nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s. Supported: whisper, sidecar", name)
	}
}

func checkAudio(audioPath string) error {
	info, err := os.Stat(audioPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrAudioNotFound, audioPath)
	}
	if err != nil {
		return fmt.Errorf("stat audio: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrAudioNotFound, audioPath)
	}
	return nil
}
