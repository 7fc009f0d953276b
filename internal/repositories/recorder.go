package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
)

// HistoryRecorder implements tasks.Recorder using TaskRunRepository.
//
// The first snapshot for a run id creates the row; later snapshots update it.
type HistoryRecorder struct {
	repo *TaskRunRepository
}

// NewHistoryRecorder creates a new HistoryRecorder with the given repository
func NewHistoryRecorder(repo *TaskRunRepository) *HistoryRecorder {
	return &HistoryRecorder{repo: repo}
}

// Record upserts the run identified by state.RunID. Snapshots without a run id are ignored.
func (h *HistoryRecorder) Record(ctx context.Context, state models.SessionState) error {
	if state.RunID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	run, err := h.repo.Get(state.RunID)
	switch {
	case errors.Is(err, shared.ErrTaskNotFound):
		if state.Asset == nil {
			return fmt.Errorf("%w: run %s has no asset", shared.ErrInvalidInput, state.RunID)
		}
		run = models.NewTaskRun(*state.Asset)
		run.SetID(state.RunID)
		run.Apply(state)
		return h.repo.Create(run)
	case err != nil:
		return err
	}

	run.Apply(state)
	return h.repo.Update(run)
}
