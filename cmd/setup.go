package main

import (
	"context"

	"github.com/desertthunder/detectx/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the example configuration to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", r.configPath)
	return r.writePlain("Edit %s to point at your control plane, then run 'detectx setup database'\n", r.configPath)
}

// SetupDatabase initializes the history database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	_, closeDB, err := r.openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return nil
}
