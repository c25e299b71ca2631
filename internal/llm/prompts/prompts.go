package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/recitation/internal/model"
)

// FS holds the built-in analysis prompt templates.
//
//go:embed templates/*.txt
var FS embed.FS

const maxTranscriptRunes = 10000

var (
	transcriptTagRegex         = regexp.MustCompile(`(?i)</?\s*transcript\b[^>]*>`)
	systemInstructionsTagRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents an analysis prompt variant.
type PromptVariant string

const (
	// PromptStrict flags every audible deviation.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default analysis variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient tolerates accents and minor slips.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce         sync.Once
	loadErr          error
	analyzeTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// AnalyzeData holds template data for analysis prompts.
type AnalyzeData struct {
	UnitID       string
	SessionIndex int
	Cards        []model.Card
	Transcript   string
	Words        []model.Word
}

// Load parses the analysis templates found in fsys under templates/.
// Templates are loaded only once per process.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		analyzeTemplates = make(map[PromptVariant]*template.Template)

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			file := "templates/analyze_" + string(v) + ".txt"

			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}

			tmpl, err := template.New("analyze").Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			analyzeTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildAnalyzePrompt renders the analysis prompt for one recording of a session.
func BuildAnalyzePrompt(variant PromptVariant, unitID string, sessionIndex int, cards []model.Card, tr model.Transcript) (string, error) {
	if analyzeTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := analyzeTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	words := make([]model.Word, 0, len(tr.Words))
	for _, w := range tr.Words {
		w.Text = stripTags(w.Text)
		if w.Text == "" {
			continue
		}
		words = append(words, w)
	}

	data := AnalyzeData{
		UnitID:       unitID,
		SessionIndex: sessionIndex,
		Cards:        cards,
		Transcript:   sanitizeTranscript(tr.Text),
		Words:        words,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func stripTags(s string) string {
	s = transcriptTagRegex.ReplaceAllString(s, "")
	s = systemInstructionsTagRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func sanitizeTranscript(text string) string {
	text = stripTags(text)

	if text == "" {
		return "[Nothing was recognized in the recording]"
	}

	if utf8.RuneCountInString(text) > maxTranscriptRunes {
		runes := []rune(text)
		text = string(runes[:maxTranscriptRunes]) + "\n\n[Transcript truncated due to length]"
	}

	return text
}
