package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/detectx/internal/formatter"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/desertthunder/detectx/internal/tasks"
	"github.com/desertthunder/detectx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/detectx-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	if err := shared.SetLogLevel(fileLogger, r.config.Log.Level); err != nil {
		fileLogger.Warn("ignoring log level", "error", err)
	}
	r.SetLogger(fileLogger)

	rec, closeDB := r.recorder()
	defer closeDB()

	session := r.newSession(rec)
	guard := tasks.NewGuard(session)
	defer guard.Release()

	model := ui.NewModel(ctx, session, r.api, ui.Options{
		PageSize: r.config.Report.PageSize,
		LoadReport: func(ctx context.Context, url string) (*formatter.Report, error) {
			return formatter.LoadReport(ctx, r.httpClient, url)
		},
		OpenURL: r.openURL,
	})
	defer model.Close()

	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
