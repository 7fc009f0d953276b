package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/detectx/internal/formatter"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Report fetches a summary report and prints one page of it.
func (r *Runner) Report(ctx context.Context, cmd *cli.Command) error {
	source := cmd.Args().First()
	if source == "" {
		return fmt.Errorf("%w: report URL or file", shared.ErrMissingArgument)
	}

	report, err := formatter.LoadReport(ctx, r.httpClient, source)
	if err != nil {
		return err
	}

	if path := cmd.String("csv"); path != "" {
		if err := formatter.WriteCSVExport(report, path); err != nil {
			return err
		}
		r.logger.Info("report saved", "path", path)
	}

	if cmd.Bool("json") {
		data, err := formatter.ToSummaryJSON(report)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return r.writePlain("%s\n", data)
	}

	pageSize := cmd.Int("page-size")
	if pageSize <= 0 {
		pageSize = r.config.Report.PageSize
	}
	return formatter.WriteReport(r.output, report, cmd.Int("page")-1, pageSize)
}
