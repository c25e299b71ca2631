// Package pipeline drives evaluation tasks from submission to a terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/recitation/internal/i18n"
	"github.com/pavelanni/recitation/internal/model"
	"github.com/pavelanni/recitation/internal/transcribe"
)

// TaskStore is the durable task state machine.
type TaskStore interface {
	CreateTask(req model.EvaluationRequest) (model.Task, error)
	GetTask(id string) (model.Task, error)
	ListTasks(f model.TaskFilter) ([]model.Task, error)
	BeginTask(id string) (bool, error)
	SucceedTask(id string, report model.DiagnosticReport) error
	FailTask(id, message string) error
}

// ReferenceBank looks up the reference cards of a session.
type ReferenceBank interface {
	GetSession(unitID string, sessionIndex int) ([]model.Card, bool)
}

// Analyzer compares a transcript with reference cards.
type Analyzer interface {
	Analyze(ctx context.Context, unitID string, sessionIndex int, cards []model.Card, tr model.Transcript) (*model.DiagnosticReport, error)
}

// Stage names a step of the evaluation pipeline.
type Stage string

const (
	StageLookup     Stage = "lookup"
	StageTranscribe Stage = "transcription"
	StageAnalyze    Stage = "analysis"
	StageValidate   Stage = "validation"
)

// StageError records which stage of a pipeline run failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Config holds orchestrator settings. Zero timeouts mean no deadline.
type Config struct {
	Lang              string
	TranscribeTimeout time.Duration
	AnalyzeTimeout    time.Duration
}

// Orchestrator runs the pipeline of one task at a time. It is safe for
// concurrent use by several workers.
type Orchestrator struct {
	store    TaskStore
	bank     ReferenceBank
	asr      transcribe.Provider
	analyzer Analyzer
	cfg      Config
}

// NewOrchestrator creates an orchestrator over its collaborators.
func NewOrchestrator(store TaskStore, bank ReferenceBank, asr transcribe.Provider, analyzer Analyzer, cfg Config) *Orchestrator {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Orchestrator{
		store:    store,
		bank:     bank,
		asr:      asr,
		analyzer: analyzer,
		cfg:      cfg,
	}
}

// Run drives task id to AWAITING_TEACHER_REVIEW or FAILED. A task that has
// already left PENDING is skipped. Stage failures are stored on the task and
// also returned; only a store fault leaves the task without a terminal state.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	started, err := o.store.BeginTask(id)
	if err != nil {
		return fmt.Errorf("begin task %s: %w", id, err)
	}
	if !started {
		slog.Debug("task already started, skipping", "task_id", id)
		return nil
	}

	task, err := o.store.GetTask(id)
	if err != nil {
		return o.fail(id, &StageError{StageLookup, err}, o.msg("EvaluationFailed", map[string]any{"Error": err.Error()}))
	}
	log := slog.With("task_id", id, "unit_id", task.UnitID, "session_index", task.SessionIndex)
	log.Info("evaluation started", "student_id", task.StudentID)

	cards, ok := o.bank.GetSession(task.UnitID, task.SessionIndex)
	if !ok {
		msg := o.msg("ReferenceNotFound", map[string]any{"Unit": task.UnitID, "Session": task.SessionIndex})
		return o.fail(id, &StageError{StageLookup, errors.New(msg)}, msg)
	}

	tctx, cancel := withTimeout(ctx, o.cfg.TranscribeTimeout)
	tr, err := o.asr.Transcribe(tctx, task.AudioPath)
	cancel()
	if err != nil {
		return o.fail(id, &StageError{StageTranscribe, err},
			o.stageMessage(ctx, StageTranscribe, o.cfg.TranscribeTimeout, "TranscriptionFailed", err))
	}
	log.Info("transcription done", "provider", o.asr.Name(), "words", len(tr.Words))

	actx, cancel := withTimeout(ctx, o.cfg.AnalyzeTimeout)
	report, err := o.analyzer.Analyze(actx, task.UnitID, task.SessionIndex, cards, *tr)
	cancel()
	if err != nil {
		return o.fail(id, &StageError{StageAnalyze, err},
			o.stageMessage(ctx, StageAnalyze, o.cfg.AnalyzeTimeout, "AnalysisFailed", err))
	}
	if err := report.Validate(cards); err != nil {
		return o.fail(id, &StageError{StageValidate, err},
			o.msg("AnalysisFailed", map[string]any{"Error": err.Error()}))
	}

	if err := o.store.SucceedTask(id, *report); err != nil {
		return fmt.Errorf("store report for task %s: %w", id, err)
	}
	log.Info("evaluation awaiting teacher review",
		"grade", report.FinalGradeSuggestion,
		"mistakes", report.MistakeCount,
		"annotations", len(report.Annotations),
	)
	return nil
}

// fail moves the task to FAILED with msg and returns cause.
func (o *Orchestrator) fail(id string, cause *StageError, msg string) error {
	slog.Warn("evaluation failed", "task_id", id, "stage", cause.Stage, "error", cause.Err)
	if err := o.store.FailTask(id, msg); err != nil {
		slog.Error("failed to record task failure", "task_id", id, "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

// stageMessage distinguishes a stage deadline and a cancelled run from an
// ordinary provider error.
func (o *Orchestrator) stageMessage(ctx context.Context, stage Stage, timeout time.Duration, msgID string, err error) string {
	switch {
	case ctx.Err() != nil:
		return o.msg("EvaluationCancelled", map[string]any{"Stage": stage})
	case errors.Is(err, context.DeadlineExceeded):
		return o.msg("StageTimeout", map[string]any{"Stage": stage, "Timeout": timeout})
	default:
		return o.msg(msgID, map[string]any{"Error": err.Error()})
	}
}

func (o *Orchestrator) msg(id string, data map[string]any) string {
	return i18n.Tl(o.cfg.Lang, id, data)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
