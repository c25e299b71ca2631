package model

import "time"

// TaskExport is the top-level JSON structure for evaluation result export.
type TaskExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	NumTasks   int             `json:"num_tasks"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one evaluation task with its outcome for export.
type StudentResult struct {
	TaskID       string            `json:"task_id"`
	StudentID    string            `json:"student_id"`
	UnitID       string            `json:"unit_id"`
	SessionIndex int               `json:"session_index"`
	AudioPath    string            `json:"audio_path"`
	Status       TaskStatus        `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Report       *DiagnosticReport `json:"report,omitempty"`
	Error        string            `json:"error,omitempty"`
	Review       *TeacherReview    `json:"review,omitempty"`
}
