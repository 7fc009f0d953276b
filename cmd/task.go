package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/services"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/desertthunder/detectx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// uploadResult is the JSON shape printed by the upload command.
type uploadResult struct {
	RunID  string `json:"run_id,omitempty"`
	File   string `json:"file"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Run uploads the file argument, starts detection and follows the task until it ends.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	asset, err := services.SelectFile(cmd.Args().First(), cmd.String("mime"))
	if err != nil {
		return err
	}

	return r.withSession(ctx, func(ctx context.Context, session *tasks.Session) error {
		if err := session.SelectFile(asset); err != nil {
			return err
		}
		if err := r.upload(ctx, session); err != nil {
			return err
		}
		return r.startAndFollow(ctx, session, cmd)
	})
}

// Upload sends the file argument to storage and prints where it landed.
func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	asset, err := services.SelectFile(cmd.Args().First(), cmd.String("mime"))
	if err != nil {
		return err
	}

	return r.withSession(ctx, func(ctx context.Context, session *tasks.Session) error {
		if err := session.SelectFile(asset); err != nil {
			return err
		}
		if err := r.upload(ctx, session); err != nil {
			return err
		}

		st := session.State()
		result := uploadResult{RunID: st.RunID, File: asset.Name, Bucket: st.ContainerID, Key: st.ObjectKey}
		if cmd.Bool("json") {
			return r.writeJSON(result, true)
		}
		r.writePlain("bucket: %s\n", result.Bucket)
		r.writePlain("key:    %s\n", result.Key)
		return r.writePlainln("Start detection with: detectx start --bucket %s --key %s", result.Bucket, result.Key)
	})
}

// Start begins detection for an object uploaded earlier and follows the task until it ends.
func (r *Runner) Start(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, func(ctx context.Context, session *tasks.Session) error {
		if err := session.UseObject(cmd.String("bucket"), cmd.String("key")); err != nil {
			return err
		}
		return r.startAndFollow(ctx, session, cmd)
	})
}

// withSession runs fn against a fresh session that records history and honours interrupts.
//
// The channel is always released before the history database closes. Work cut short by an
// interrupt reports [shared.ErrAbandoned] whatever the interrupted call returned.
func (r *Runner) withSession(ctx context.Context, fn func(context.Context, *tasks.Session) error) error {
	rec, closeDB := r.recorder()
	defer closeDB()

	session := r.newSession(rec)
	guard := tasks.NewGuard(session)
	defer guard.Release()

	ctx, stop := r.guardInterrupts(ctx, guard)
	defer stop()

	err := fn(ctx, session)
	if st := session.State(); err != nil && errors.Is(st.Err, shared.ErrAbandoned) {
		return st.Err
	}
	return err
}

func (r *Runner) upload(ctx context.Context, session *tasks.Session) error {
	stop := r.follow(session)
	err := session.Upload(ctx)
	stop()
	if err != nil {
		return err
	}

	st := session.State()
	r.logger.Info("upload complete", "file", st.Asset.Name, "bucket", st.ContainerID, "key", st.ObjectKey)
	return nil
}

func (r *Runner) startAndFollow(ctx context.Context, session *tasks.Session, cmd *cli.Command) error {
	stop := r.follow(session)
	defer stop()

	taskID, err := session.Start(ctx, cmd.String("module"), cmd.StringSlice("class"))
	if err != nil {
		return err
	}
	r.logger.Info("task started", "task_id", taskID)

	st, err := session.Wait(ctx)
	stop()
	if err != nil {
		return err
	}

	r.writePlainHeader("Detection complete")
	r.writePlain("task:   %s\n", st.TaskID())
	r.writePlain("report: %s\n", valueOr(st.ReportURL, "(none)"))
	r.writePlain("video:  %s\n", valueOr(st.VideoURL, "(none)"))

	if cmd.Bool("open") {
		if st.VideoURL == "" {
			r.logger.Warn("no processed video to open")
			return nil
		}
		if err := r.openURL(st.VideoURL); err != nil {
			return fmt.Errorf("failed to open video: %w", err)
		}
	}
	return nil
}

// follow prints each change in phase, progress or channel warning until the returned func is called.
//
// The returned func is idempotent and waits for the printer to drain.
func (r *Runner) follow(session *tasks.Session) func() {
	updates, cancel := session.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		var last *models.SessionState
		for st := range updates {
			if last != nil && sameProgress(*last, st) {
				continue
			}
			if st.Warning != "" && (last == nil || last.Warning != st.Warning) {
				r.logger.Warn("progress channel interrupted", "error", st.Warning)
			}
			r.printProgress(st)
			last = &st
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) printProgress(st models.SessionState) {
	switch st.Phase {
	case models.Uploading:
		r.writePlain("uploading %s: %d%%\n", st.Asset.Name, st.UploadPercentage)
	case models.Starting:
		r.writePlain("starting task\n")
	case models.Running:
		r.writePlain("task %s: %d%%\n", st.TaskID(), st.TaskPercentage)
	}
}

func sameProgress(a, b models.SessionState) bool {
	return a.Phase == b.Phase &&
		a.UploadPercentage == b.UploadPercentage &&
		a.TaskPercentage == b.TaskPercentage &&
		a.Warning == b.Warning
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
