package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRun = errors.New("invalid task run")

// TaskRun is the persisted history of one asset submitted through a session.
//
// Implements [Model]; persisted by repositories.TaskRunRepository.
type TaskRun struct {
	id          string
	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time

	TaskID           string
	FileName         string
	ByteSize         int64
	MimeType         string
	ContainerID      string
	ObjectKey        string
	ModuleName       string
	ClassNames       []string
	Phase            Phase
	UploadPercentage int
	TaskPercentage   int
	ReportURL        string
	VideoURL         string
	ErrorMessage     string
}

// NewTaskRun creates an unsaved run for asset in the Idle phase.
func NewTaskRun(asset FileAsset) *TaskRun {
	now := time.Now().UTC()
	return &TaskRun{
		createdAt: now,
		updatedAt: now,
		FileName:  asset.Name,
		ByteSize:  asset.ByteSize,
		MimeType:  asset.MimeType,
		Phase:     Idle,
	}
}

// RestoreTaskRun rebuilds a run loaded from storage.
func RestoreTaskRun(id string, createdAt, updatedAt time.Time, completedAt *time.Time) *TaskRun {
	return &TaskRun{id: id, createdAt: createdAt, updatedAt: updatedAt, completedAt: completedAt}
}

func (r *TaskRun) ID() string               { return r.id }
func (r *TaskRun) CreatedAt() time.Time     { return r.createdAt }
func (r *TaskRun) UpdatedAt() time.Time     { return r.updatedAt }
func (r *TaskRun) CompletedAt() *time.Time  { return r.completedAt }
func (r *TaskRun) SetID(id string)          { r.id = id }
func (r *TaskRun) SetUpdatedAt(t time.Time) { r.updatedAt = t }

// Validate checks that the run has a file name and a known phase.
func (r *TaskRun) Validate() error {
	if r.FileName == "" {
		return fmt.Errorf("%w: file name is required", ErrInvalidRun)
	}
	if r.Phase < Idle || r.Phase > Abandoned {
		return fmt.Errorf("%w: unknown phase %d", ErrInvalidRun, r.Phase)
	}
	if r.UploadPercentage < 0 || r.UploadPercentage > 100 || r.TaskPercentage < 0 || r.TaskPercentage > 100 {
		return fmt.Errorf("%w: percentage out of range", ErrInvalidRun)
	}
	return nil
}

// Apply copies the observable parts of state onto the run.
//
// CompletedAt is stamped the first time the run reaches Completed.
func (r *TaskRun) Apply(state SessionState) {
	r.Phase = state.Phase
	r.UploadPercentage = state.UploadPercentage
	r.TaskPercentage = state.TaskPercentage
	r.ReportURL = state.ReportURL
	r.VideoURL = state.VideoURL

	if state.ContainerID != "" {
		r.ContainerID = state.ContainerID
		r.ObjectKey = state.ObjectKey
	}
	if state.Task != nil {
		r.TaskID = state.Task.TaskID
		r.ModuleName = state.Task.ModuleName
		r.ClassNames = state.Task.ClassNames()
	}

	if state.Err != nil {
		r.ErrorMessage = state.Err.Error()
	} else if state.Phase != Abandoned {
		r.ErrorMessage = ""
	}

	if state.Phase == Completed && r.completedAt == nil {
		now := time.Now().UTC()
		r.completedAt = &now
	}
}
