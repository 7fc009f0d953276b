package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/detectx/internal/channel"
	"github.com/desertthunder/detectx/internal/repositories"
	"github.com/desertthunder/detectx/internal/services"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/desertthunder/detectx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// ControlPlane is the request/response API the commands talk to.
type ControlPlane interface {
	services.CredentialClient
	services.TaskLauncher
	services.Catalog
}

// SignalFunc subscribes to process interrupts and returns a func that stops delivery.
type SignalFunc func() (<-chan os.Signal, func())

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Collaborators left nil are built from the loaded config on first use.
type Runner struct {
	config     *shared.Config
	configPath string
	api        ControlPlane
	transport  services.Transport
	dial       channel.DialFunc
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	signals    SignalFunc
	openURL    func(string) error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	API        ControlPlane
	Transport  services.Transport
	Dial       channel.DialFunc
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Signals    SignalFunc
	OpenURL    func(string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Signals == nil {
		opts.Signals = notifyInterrupt
	}
	if opts.OpenURL == nil {
		opts.OpenURL = shared.OpenBrowser
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		api:        opts.API,
		transport:  opts.Transport,
		dial:       opts.Dial,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		signals:    opts.Signals,
		openURL:    opts.OpenURL,
	}
}

// command builds the root command with every subcommand registered.
func (r *Runner) command() *cli.Command {
	return &cli.Command{
		Name:    "detectx",
		Usage:   "Upload videos for object detection and follow the results",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Before:   r.Before,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		runCommand, uploadCommand, startCommand, modulesCommand, classesCommand,
		reportCommand, historyCommand, setupCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the config file named by --config when it exists and applies its log level.
//
// A missing file keeps the runner's current config.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if path == "" {
		path = r.configPath
	}
	r.configPath = path

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			config, err := shared.LoadConfig(path)
			if err != nil {
				return ctx, err
			}
			r.config = config
		} else {
			r.logger.Debug("config file not found, using defaults", "path", path)
		}
	}

	if err := shared.SetLogLevel(r.logger, r.config.Log.Level); err != nil {
		r.logger.Warn("ignoring log level", "error", err)
	}
	return ctx, nil
}

// SetLogger replaces the runner's logger. Collaborators built afterwards log through it.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// wire builds any collaborator that was not injected.
func (r *Runner) wire() {
	if r.api == nil {
		r.api = services.NewControlPlane(r.config.ControlPlane, nil, r.logger)
	}
	if r.transport == nil {
		r.transport = services.NewUploader(nil, r.logger)
	}
	if r.dial == nil {
		r.dial = channel.Dialer(channel.OptionsFromConfig(r.config.Channel, r.config.ControlPlane.Token, r.logger))
	}
}

func (r *Runner) newSession(rec tasks.Recorder) *tasks.Session {
	r.wire()
	return tasks.NewSession(tasks.Deps{
		Credentials: r.api,
		Transport:   r.transport,
		Launcher:    r.api,
		Dial:        r.dial,
		Recorder:    rec,
		Logger:      r.logger,
	})
}

// openHistory opens the task history database and returns its repository with a close func.
func (r *Runner) openHistory() (*repositories.TaskRunRepository, func(), error) {
	db, err := shared.OpenHistory(r.config.Database)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewTaskRunRepository(db), func() { db.Close() }, nil
}

// recorder returns a history recorder, or nil when the database cannot be opened.
func (r *Runner) recorder() (tasks.Recorder, func()) {
	repo, closeDB, err := r.openHistory()
	if err != nil {
		r.logger.Warn("task history unavailable", "error", err)
		return nil, func() {}
	}
	return repositories.NewHistoryRecorder(repo), closeDB
}

// guardInterrupts cancels the returned context when an interrupt is allowed to end the command.
//
// While work is in flight the first interrupt only warns and the second abandons the task.
func (r *Runner) guardInterrupts(ctx context.Context, guard *tasks.Guard) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sig, stop := r.signals()

	go func() {
		leave := guard.WatchSignals(ctx, sig, func() {
			r.logger.Warn("a task is still in progress, interrupt again to abandon it")
		})
		if leave {
			cancel()
		}
	}()

	return ctx, func() {
		stop()
		cancel()
	}
}

func notifyInterrupt() (<-chan os.Signal, func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	return sig, func() { signal.Stop(sig) }
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, shared.ErrAbandoned):
		return 130
	default:
		return 1
	}
}
