package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleTeacher may review evaluated tasks.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin may review tasks and manage users.
	UserRoleAdmin UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	return r == UserRoleTeacher || r == UserRoleAdmin
}

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Card is one reference question with its expected answer.
// CardIndex is the card's position within its session, starting at 0.
type Card struct {
	CardIndex      int    `json:"card_index"`
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expected_answer"`
}

// TaskStatus is the lifecycle state of an evaluation task.
type TaskStatus string

const (
	StatusPending               TaskStatus = "PENDING"
	StatusProcessing            TaskStatus = "PROCESSING"
	StatusAwaitingTeacherReview TaskStatus = "AWAITING_TEACHER_REVIEW"
	StatusFailed                TaskStatus = "FAILED"
)

// ParseTaskStatus converts a raw status string, rejecting unknown values.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	switch st {
	case StatusPending, StatusProcessing, StatusAwaitingTeacherReview, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

// Terminal reports whether no further transition is defined out of the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusAwaitingTeacherReview, StatusFailed:
		return true
	case StatusPending, StatusProcessing:
		return false
	default:
		panic(fmt.Sprintf("unhandled task status %q", string(s)))
	}
}

// CanTransition reports whether moving from s to next is a legal edge of the
// task state machine: PENDING -> PROCESSING -> {AWAITING_TEACHER_REVIEW | FAILED},
// plus PENDING -> FAILED for failures detected before processing starts.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusAwaitingTeacherReview || next == StatusFailed
	case StatusAwaitingTeacherReview, StatusFailed:
		return false
	default:
		panic(fmt.Sprintf("unhandled task status %q", string(s)))
	}
}

// EvaluationRequest is the input of a submission.
type EvaluationRequest struct {
	StudentID    string `json:"student_id"`
	UnitID       string `json:"unit_id"`
	SessionIndex int    `json:"session_index"`
	AudioPath    string `json:"audio_path"`
}

// Task is the durable lifecycle record of one evaluation request.
// Result is nil while the task is not terminal; it holds either a
// DiagnosticReport or a FailureResult once it is.
type Task struct {
	ID           string          `json:"task_id"`
	StudentID    string          `json:"student_id"`
	UnitID       string          `json:"unit_id"`
	SessionIndex int             `json:"session_index"`
	AudioPath    string          `json:"audio_path"`
	Status       TaskStatus      `json:"status"`
	Result       json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// FailureResult is the result payload of a FAILED task.
type FailureResult struct {
	Error string `json:"error"`
}

// Report decodes the task result as a diagnostic report.
// It returns nil when the task has not reached AWAITING_TEACHER_REVIEW.
func (t Task) Report() (*DiagnosticReport, error) {
	if t.Status != StatusAwaitingTeacherReview || len(t.Result) == 0 {
		return nil, nil
	}
	var r DiagnosticReport
	if err := json.Unmarshal(t.Result, &r); err != nil {
		return nil, fmt.Errorf("decode report for task %s: %w", t.ID, err)
	}
	return &r, nil
}

// Failure returns the stored error message of a FAILED task, or "".
func (t Task) Failure() string {
	if t.Status != StatusFailed || len(t.Result) == 0 {
		return ""
	}
	var f FailureResult
	if err := json.Unmarshal(t.Result, &f); err != nil {
		return ""
	}
	return f.Error
}

// TaskFilter narrows task listings. Zero values mean no filtering.
type TaskFilter struct {
	Status    TaskStatus
	StudentID string
	UnitID    string
	TaskIDs   []string
	Limit     int
}

// Word is one recognized word with its position in the recording.
type Word struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Transcript is the output of a transcription provider.
type Transcript struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// Grade is a teacher's final letter grade.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// Valid reports whether g is one of the known grades.
func (g Grade) Valid() bool {
	return g == GradeA || g == GradeB || g == GradeC
}

// TeacherReview is a teacher's sign-off on an AI-generated report.
type TeacherReview struct {
	TaskID         string    `json:"task_id"`
	FinalGrade     Grade     `json:"final_grade"`
	TeacherComment string    `json:"teacher_comment"`
	ReviewedBy     string    `json:"reviewed_by"`
	ReviewedAt     time.Time `json:"reviewed_at"`
}

// EvalConfig holds runtime submission parameters set via CLI flags.
type EvalConfig struct {
	AudioDir       string // where uploaded recordings are written
	MaxUploadBytes int64
}
