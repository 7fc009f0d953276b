// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func mimeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "mime",
		Usage: "Content type of the file (sniffed when omitted)",
	}
}

func taskFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "module",
			Aliases: []string{"m"},
			Usage:   "Detection module to run (server default when omitted)",
		},
		&cli.StringSliceFlag{
			Name:  "class",
			Usage: "Object class to detect, repeatable",
		},
		&cli.BoolFlag{
			Name:  "open",
			Usage: "Open the processed video in the browser when the task completes",
		},
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// runCommand uploads a file and tracks its detection task to completion.
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Upload a video, start detection and follow progress",
		ArgsUsage: "<file>",
		Flags:     append([]cli.Flag{mimeFlag()}, taskFlags()...),
		Action:    r.Run,
	}
}

func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a video without starting a task",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{mimeFlag(), jsonFlag()},
		Action:    r.Upload,
	}
}

// startCommand starts a task for an object stored by an earlier upload.
func startCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start detection for an uploaded object and follow progress",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "Storage container holding the object",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Object key returned by upload",
				Required: true,
			},
		}, taskFlags()...),
		Action: r.Start,
	}
}

func modulesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "modules",
		Usage:  "List detection modules",
		Flags:  []cli.Flag{jsonFlag()},
		Action: r.Modules,
	}
}

func classesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "classes",
		Usage:     "List the object classes a module can detect",
		ArgsUsage: "<module>",
		Flags:     []cli.Flag{jsonFlag()},
		Action:    r.Classes,
	}
}

// reportCommand renders a task's summary report
func reportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Show a summary report from a URL or local CSV file",
		ArgsUsage: "<url|file>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page to show, starting at 1",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Rows per page (config report.page_size when omitted)",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Also save the formatted report to this path",
			},
			jsonFlag(),
		},
		Action: r.Report,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect past tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recorded tasks, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of tasks to list",
						Value: 20,
					},
					&cli.StringFlag{
						Name:  "phase",
						Usage: "Only list tasks in this phase (e.g. completed, abandoned)",
					},
					jsonFlag(),
				},
				Action: r.HistoryList,
			},
			{
				Name:      "show",
				Usage:     "Show one recorded task by run or task ID",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.HistoryShow,
			},
		},
	}
}

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize the history database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive terminal UI",
		Action:  r.TUI,
	}
}
