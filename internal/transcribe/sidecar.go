package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pavelanni/recitation/internal/model"
)

// Sidecar reads a transcript prepared ahead of time and stored next to the
// recording as "<audio>.json". It is meant for offline runs and demos.
//
// The file format is the one produced by common ASR services:
//
//	{"text": "...", "words": [{"text": "avoid", "start": 800, "end": 1200}]}
//
// with start/end in milliseconds.
type Sidecar struct{}

// NewSidecar creates a sidecar provider.
func NewSidecar() *Sidecar {
	return &Sidecar{}
}

// Name returns the provider name.
func (s *Sidecar) Name() string {
	return "sidecar"
}

type sidecarFile struct {
	Text  string `json:"text"`
	Words []struct {
		Text  string `json:"text"`
		Start int64  `json:"start"`
		End   int64  `json:"end"`
	} `json:"words"`
}

// SidecarPath returns where the transcript for audioPath is expected.
func SidecarPath(audioPath string) string {
	return audioPath + ".json"
}

// Transcribe loads the sidecar transcript of audioPath.
func (s *Sidecar) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkAudio(audioPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(SidecarPath(audioPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no transcript for %s: expected %s", audioPath, SidecarPath(audioPath))
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var f sidecarFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", SidecarPath(audioPath), err)
	}

	tr := &model.Transcript{
		Text:  strings.TrimSpace(f.Text),
		Words: make([]model.Word, 0, len(f.Words)),
	}
	for i, w := range f.Words {
		if w.End < w.Start {
			return nil, fmt.Errorf("parse transcript %s: word %d ends before it starts", SidecarPath(audioPath), i)
		}
		tr.Words = append(tr.Words, model.Word{Text: w.Text, StartMS: w.Start, EndMS: w.End})
	}
	return tr, nil
}
