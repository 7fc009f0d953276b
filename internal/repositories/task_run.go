package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
)

const taskRunColumns = `
	id, task_id, file_name, byte_size, mime_type, bucket, object_key,
	module_name, class_names, phase, upload_percentage, task_percentage,
	report_url, video_url, error_message, created_at, updated_at, completed_at
`

var _ models.Repository[*models.TaskRun] = (*TaskRunRepository)(nil)

// TaskRunRepository implements models.Repository[*models.TaskRun] for task history.
type TaskRunRepository struct {
	db *sql.DB
}

// NewTaskRunRepository creates a new TaskRunRepository with the given database connection
func NewTaskRunRepository(db *sql.DB) *TaskRunRepository {
	return &TaskRunRepository{db: db}
}

// Create inserts a run, generating an ID when the run has none
func (r *TaskRunRepository) Create(run *models.TaskRun) error {
	if run.ID() == "" {
		run.SetID(shared.GenerateID())
	}

	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	classes, err := json.Marshal(classNames(run))
	if err != nil {
		return fmt.Errorf("failed to encode class names: %w", err)
	}

	query := `INSERT INTO task_runs (` + taskRunColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query,
		run.ID(),
		nullString(run.TaskID),
		run.FileName,
		run.ByteSize,
		run.MimeType,
		run.ContainerID,
		run.ObjectKey,
		run.ModuleName,
		string(classes),
		run.Phase.String(),
		run.UploadPercentage,
		run.TaskPercentage,
		run.ReportURL,
		run.VideoURL,
		nullString(run.ErrorMessage),
		run.CreatedAt(),
		run.UpdatedAt(),
		run.CompletedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task run: %w", err)
	}

	return nil
}

// Get retrieves a run by ID
func (r *TaskRunRepository) Get(id string) (*models.TaskRun, error) {
	query := `SELECT ` + taskRunColumns + ` FROM task_runs WHERE id = ?`
	return r.scan(r.db.QueryRow(query, id))
}

// GetByTaskID retrieves the most recent run for a server task id
func (r *TaskRunRepository) GetByTaskID(taskID string) (*models.TaskRun, error) {
	query := `SELECT ` + taskRunColumns + ` FROM task_runs WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`
	return r.scan(r.db.QueryRow(query, taskID))
}

// Update writes the mutable fields of an existing run
func (r *TaskRunRepository) Update(run *models.TaskRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	classes, err := json.Marshal(classNames(run))
	if err != nil {
		return fmt.Errorf("failed to encode class names: %w", err)
	}

	now := time.Now().UTC()
	run.SetUpdatedAt(now)

	query := `
		UPDATE task_runs
		SET task_id = ?, bucket = ?, object_key = ?, module_name = ?, class_names = ?,
			phase = ?, upload_percentage = ?, task_percentage = ?, report_url = ?, video_url = ?,
			error_message = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		nullString(run.TaskID),
		run.ContainerID,
		run.ObjectKey,
		run.ModuleName,
		string(classes),
		run.Phase.String(),
		run.UploadPercentage,
		run.TaskPercentage,
		run.ReportURL,
		run.VideoURL,
		nullString(run.ErrorMessage),
		now,
		run.CompletedAt(),
		run.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update task run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrTaskNotFound, run.ID())
	}

	return nil
}

// Delete removes a run by ID
func (r *TaskRunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM task_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	}

	return nil
}

// List retrieves runs newest first.
//
// Supported criteria: "phase" (string), "task_id" (string), "limit" (int).
func (r *TaskRunRepository) List(criteria map[string]any) ([]*models.TaskRun, error) {
	query := `SELECT ` + taskRunColumns + ` FROM task_runs WHERE 1 = 1`
	args := []any{}

	if phase, ok := criteria["phase"].(string); ok && phase != "" {
		query += " AND phase = ?"
		args = append(args, phase)
	}

	if taskID, ok := criteria["task_id"].(string); ok && taskID != "" {
		query += " AND task_id = ?"
		args = append(args, taskID)
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.TaskRun
	for rows.Next() {
		run, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scan reads one task_runs row from a [sql.Row] or [sql.Rows]
func (r *TaskRunRepository) scan(row scanner) (*models.TaskRun, error) {
	var (
		id           string
		taskID       sql.NullString
		classes      string
		phase        string
		errorMessage sql.NullString
		createdAt    time.Time
		updatedAt    time.Time
		completedAt  sql.NullTime
		run          models.TaskRun
	)

	err := row.Scan(
		&id, &taskID, &run.FileName, &run.ByteSize, &run.MimeType, &run.ContainerID, &run.ObjectKey,
		&run.ModuleName, &classes, &phase, &run.UploadPercentage, &run.TaskPercentage,
		&run.ReportURL, &run.VideoURL, &errorMessage, &createdAt, &updatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task run: %w", err)
	}

	var completed *time.Time
	if completedAt.Valid {
		completed = &completedAt.Time
	}

	restored := models.RestoreTaskRun(id, createdAt, updatedAt, completed)
	restored.TaskID = taskID.String
	restored.FileName = run.FileName
	restored.ByteSize = run.ByteSize
	restored.MimeType = run.MimeType
	restored.ContainerID = run.ContainerID
	restored.ObjectKey = run.ObjectKey
	restored.ModuleName = run.ModuleName
	restored.Phase = models.ParsePhase(phase)
	restored.UploadPercentage = run.UploadPercentage
	restored.TaskPercentage = run.TaskPercentage
	restored.ReportURL = run.ReportURL
	restored.VideoURL = run.VideoURL
	restored.ErrorMessage = errorMessage.String

	if err := json.Unmarshal([]byte(classes), &restored.ClassNames); err != nil {
		return nil, fmt.Errorf("failed to decode class names: %w", err)
	}

	return restored, nil
}

func classNames(run *models.TaskRun) []string {
	if run.ClassNames == nil {
		return []string{}
	}
	return run.ClassNames
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
