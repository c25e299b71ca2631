package store

import (
	"fmt"

	"github.com/pavelanni/recitation/internal/model"
)

// ExportTasks builds export-ready results from all tasks matching the filter.
func (s *Store) ExportTasks(f model.TaskFilter) ([]model.StudentResult, error) {
	tasks, err := s.ListTasks(f)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	results := make([]model.StudentResult, 0, len(tasks))
	for _, t := range tasks {
		report, err := t.Report()
		if err != nil {
			return nil, err
		}
		review, err := s.GetReview(t.ID)
		if err != nil {
			return nil, fmt.Errorf("get review %s: %w", t.ID, err)
		}

		results = append(results, model.StudentResult{
			TaskID:       t.ID,
			StudentID:    t.StudentID,
			UnitID:       t.UnitID,
			SessionIndex: t.SessionIndex,
			AudioPath:    t.AudioPath,
			Status:       t.Status,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
			Report:       report,
			Error:        t.Failure(),
			Review:       review,
		})
	}

	return results, nil
}
