package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/recitation/internal/model"
)

// ErrNotReviewable is returned when a review targets a task whose report
// is not awaiting teacher review.
var ErrNotReviewable = errors.New("task is not awaiting teacher review")

// SaveReview records or replaces a teacher's sign-off. The task status is
// left unchanged: AWAITING_TEACHER_REVIEW is terminal for the pipeline.
func (s *Store) SaveReview(r model.TeacherReview) (model.TeacherReview, error) {
	task, err := s.GetTask(r.TaskID)
	if err != nil {
		return model.TeacherReview{}, err
	}
	if task.Status != model.StatusAwaitingTeacherReview {
		return model.TeacherReview{}, fmt.Errorf("%w: task %s is %s", ErrNotReviewable, task.ID, task.Status)
	}

	r.ReviewedAt = time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO teacher_reviews (task_id, final_grade, teacher_comment, reviewed_by, reviewed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET final_grade = ?, teacher_comment = ?, reviewed_by = ?, reviewed_at = ?`,
		r.TaskID, r.FinalGrade, r.TeacherComment, r.ReviewedBy, r.ReviewedAt,
		r.FinalGrade, r.TeacherComment, r.ReviewedBy, r.ReviewedAt,
	)
	if err != nil {
		return model.TeacherReview{}, err
	}
	return r, nil
}

// GetReview returns the review of a task, or nil if none was saved.
func (s *Store) GetReview(taskID string) (*model.TeacherReview, error) {
	var r model.TeacherReview
	err := s.db.QueryRow(
		`SELECT task_id, final_grade, teacher_comment, reviewed_by, reviewed_at
		 FROM teacher_reviews WHERE task_id = ?`, taskID,
	).Scan(&r.TaskID, &r.FinalGrade, &r.TeacherComment, &r.ReviewedBy, &r.ReviewedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
