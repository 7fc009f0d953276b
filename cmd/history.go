package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/detectx/internal/formatter"
	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/urfave/cli/v3"
)

// runView is the printable form of a recorded run.
type runView struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id,omitempty"`
	File        string     `json:"file"`
	Bytes       int64      `json:"bytes"`
	MimeType    string     `json:"mime_type,omitempty"`
	Bucket      string     `json:"bucket,omitempty"`
	Key         string     `json:"key,omitempty"`
	Module      string     `json:"module,omitempty"`
	Classes     []string   `json:"classes,omitempty"`
	Phase       string     `json:"phase"`
	Upload      int        `json:"upload_percentage"`
	Progress    int        `json:"task_percentage"`
	ReportURL   string     `json:"report_url,omitempty"`
	VideoURL    string     `json:"video_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newRunView(run *models.TaskRun) runView {
	return runView{
		ID:          run.ID(),
		TaskID:      run.TaskID,
		File:        run.FileName,
		Bytes:       run.ByteSize,
		MimeType:    run.MimeType,
		Bucket:      run.ContainerID,
		Key:         run.ObjectKey,
		Module:      run.ModuleName,
		Classes:     run.ClassNames,
		Phase:       run.Phase.String(),
		Upload:      run.UploadPercentage,
		Progress:    run.TaskPercentage,
		ReportURL:   run.ReportURL,
		VideoURL:    run.VideoURL,
		Error:       run.ErrorMessage,
		CreatedAt:   run.CreatedAt(),
		UpdatedAt:   run.UpdatedAt(),
		CompletedAt: run.CompletedAt(),
	}
}

// HistoryList prints recorded runs, newest first.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	repo, closeDB, err := r.openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := repo.List(map[string]any{
		"limit": cmd.Int("limit"),
		"phase": strings.ToLower(cmd.String("phase")),
	})
	if err != nil {
		return err
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}

	if cmd.Bool("json") {
		return r.writeJSON(views, true)
	}
	if len(views) == 0 {
		return r.writePlain("No tasks recorded\n")
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.ID,
			valueOr(v.TaskID, "-"),
			v.File,
			valueOr(v.Module, "-"),
			v.Phase,
			v.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return r.writePlain("%s\n", formatter.RenderTable([]string{"ID", "Task", "File", "Module", "Phase", "Created"}, rows))
}

// HistoryShow prints one recorded run, looked up by run ID and then by task ID.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("%w: run or task ID", shared.ErrMissingArgument)
	}

	repo, closeDB, err := r.openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := repo.Get(id)
	if errors.Is(err, shared.ErrTaskNotFound) {
		run, err = repo.GetByTaskID(id)
	}
	if err != nil {
		return fmt.Errorf("%w: %s", err, id)
	}

	v := newRunView(run)
	if cmd.Bool("json") {
		return r.writeJSON(v, true)
	}

	r.writePlainHeader(v.File)
	r.writePlain("id:       %s\n", v.ID)
	r.writePlain("task:     %s\n", valueOr(v.TaskID, "-"))
	r.writePlain("phase:    %s\n", v.Phase)
	r.writePlain("upload:   %d%%\n", v.Upload)
	r.writePlain("progress: %d%%\n", v.Progress)
	if v.Module != "" {
		r.writePlain("module:   %s\n", v.Module)
	}
	if len(v.Classes) > 0 {
		r.writePlain("classes:  %s\n", strings.Join(v.Classes, ", "))
	}
	if v.Bucket != "" {
		r.writePlain("object:   %s/%s\n", v.Bucket, v.Key)
	}
	r.writePlain("report:   %s\n", valueOr(v.ReportURL, "(none)"))
	r.writePlain("video:    %s\n", valueOr(v.VideoURL, "(none)"))
	if v.Error != "" {
		r.writePlain("error:    %s\n", v.Error)
	}
	return r.writePlain("created:  %s\n", v.CreatedAt.Local().Format(time.DateTime))
}
