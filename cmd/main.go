package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/detectx/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	err := runner.command().Run(context.Background(), os.Args)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrAbandoned), errors.Is(err, shared.ErrTaskActive):
		logger.Warn(err.Error())
		os.Exit(exitCode(err))
	default:
		logger.Fatalf("application error: %v", err)
	}
}
