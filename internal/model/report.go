package model

import (
	"errors"
	"fmt"
	"sort"
)

// IssueType classifies a mismatch between a card and the student's answer.
type IssueType string

const (
	IssuePronunciationError IssueType = "PRONUNCIATION_ERROR"
	IssueIncomplete         IssueType = "INCOMPLETE"
	IssueMissing            IssueType = "MISSING"
	IssueExtra              IssueType = "EXTRA"
)

// IssueTypes lists every known issue type in a stable order.
var IssueTypes = []IssueType{
	IssuePronunciationError,
	IssueIncomplete,
	IssueMissing,
	IssueExtra,
}

// Valid reports whether t is a known issue type.
func (t IssueType) Valid() bool {
	switch t {
	case IssuePronunciationError, IssueIncomplete, IssueMissing, IssueExtra:
		return true
	default:
		return false
	}
}

// IsHard reports whether the issue counts towards the mistake count.
// Soft issues are observations for the teacher and are reported but not counted.
func (t IssueType) IsHard() bool {
	return t == IssuePronunciationError
}

// Annotation is one flagged issue tied to a reference card.
type Annotation struct {
	CardIndex      int       `json:"card_index"`
	Question       string    `json:"question"`
	ExpectedAnswer string    `json:"expected_answer"`
	DetectedText   string    `json:"detected_text"`
	StartTimeMS    int64     `json:"start_time_ms"`
	EndTimeMS      int64     `json:"end_time_ms"`
	IssueType      IssueType `json:"issue_type"`
	Explanation    string    `json:"explanation"`
}

// DiagnosticReport is the result of a successful evaluation.
type DiagnosticReport struct {
	UnitID               string       `json:"unit_id"`
	SessionIndex         int          `json:"session_index"`
	FinalGradeSuggestion string       `json:"final_grade_suggestion"`
	MistakeCount         int          `json:"mistake_count"`
	AISummaryComment     string       `json:"ai_summary_comment"`
	FullTranscription    string       `json:"full_transcription"`
	Annotations          []Annotation `json:"annotations"`
}

// CountHardMistakes returns the number of annotations with a hard issue type.
func (r *DiagnosticReport) CountHardMistakes() int {
	n := 0
	for _, a := range r.Annotations {
		if a.IssueType.IsHard() {
			n++
		}
	}
	return n
}

// Normalize aligns a report produced by an analyzer with the reference it
// was produced from: annotations are stable-sorted by card index, card text
// comes from the reference, and the mistake count is recomputed.
func (r *DiagnosticReport) Normalize(unitID string, sessionIndex int, cards []Card, tr Transcript) {
	r.UnitID = unitID
	r.SessionIndex = sessionIndex
	if r.FullTranscription == "" {
		r.FullTranscription = tr.Text
	}
	if r.Annotations == nil {
		r.Annotations = []Annotation{}
	}
	sort.SliceStable(r.Annotations, func(i, j int) bool {
		return r.Annotations[i].CardIndex < r.Annotations[j].CardIndex
	})
	for i := range r.Annotations {
		a := &r.Annotations[i]
		if a.CardIndex >= 0 && a.CardIndex < len(cards) {
			a.Question = cards[a.CardIndex].Question
			a.ExpectedAnswer = cards[a.CardIndex].ExpectedAnswer
		}
	}
	r.MistakeCount = r.CountHardMistakes()
}

// ErrInvalidReport wraps every schema violation found by Validate.
var ErrInvalidReport = errors.New("invalid diagnostic report")

// Validate checks the report against the schema downstream consumers rely on.
func (r *DiagnosticReport) Validate(cards []Card) error {
	if r.FinalGradeSuggestion == "" {
		return fmt.Errorf("%w: empty final_grade_suggestion", ErrInvalidReport)
	}
	prev := -1
	for i, a := range r.Annotations {
		if !a.IssueType.Valid() {
			return fmt.Errorf("%w: annotation %d has unknown issue_type %q", ErrInvalidReport, i, a.IssueType)
		}
		if a.CardIndex < 0 || a.CardIndex >= len(cards) {
			return fmt.Errorf("%w: annotation %d references card %d, session has %d cards",
				ErrInvalidReport, i, a.CardIndex, len(cards))
		}
		if a.CardIndex < prev {
			return fmt.Errorf("%w: annotations not ordered by card_index at %d", ErrInvalidReport, i)
		}
		prev = a.CardIndex
		if a.StartTimeMS < 0 || a.EndTimeMS < a.StartTimeMS {
			return fmt.Errorf("%w: annotation %d has invalid time range %d-%d",
				ErrInvalidReport, i, a.StartTimeMS, a.EndTimeMS)
		}
	}
	if got := r.CountHardMistakes(); r.MistakeCount != got {
		return fmt.Errorf("%w: mistake_count is %d, hard annotations are %d", ErrInvalidReport, r.MistakeCount, got)
	}
	return nil
}
