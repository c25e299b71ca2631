package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/recitation/internal/model"
)

// Whisper transcribes through an OpenAI-compatible audio transcription
// endpoint, requesting word-level timestamps.
type Whisper struct {
	api      *openai.Client
	model    string
	language string
}

// NewWhisper creates a Whisper provider. An empty modelName means whisper-1.
func NewWhisper(baseURL, apiKey, modelName, language string) *Whisper {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = openai.Whisper1
	}
	return &Whisper{
		api:      openai.NewClientWithConfig(config),
		model:    modelName,
		language: language,
	}
}

// Name returns the provider name.
func (w *Whisper) Name() string {
	return "whisper"
}

// Transcribe uploads the recording and converts the word timings to milliseconds.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	if err := checkAudio(audioPath); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Language: w.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper API call: %w", err)
	}

	tr := &model.Transcript{
		Text:  strings.TrimSpace(resp.Text),
		Words: make([]model.Word, 0, len(resp.Words)),
	}
	for _, word := range resp.Words {
		tr.Words = append(tr.Words, model.Word{
			Text:    strings.TrimSpace(word.Word),
			StartMS: secondsToMS(word.Start),
			EndMS:   secondsToMS(word.End),
		})
	}

	slog.Debug("whisper transcription",
		"audio", audioPath,
		"duration_s", resp.Duration,
		"words", len(tr.Words),
		"elapsed", time.Since(start),
	)
	return tr, nil
}

func secondsToMS(s float64) int64 {
	return int64(math.Round(s * 1000))
}
