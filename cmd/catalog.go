package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/detectx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Modules lists the detection modules offered by the control plane.
func (r *Runner) Modules(ctx context.Context, cmd *cli.Command) error {
	r.wire()
	modules, err := r.api.ListModules(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(modules, true)
	}
	if len(modules) == 0 {
		return r.writePlain("No modules available\n")
	}

	r.writePlainHeader(fmt.Sprintf("Modules (%d)", len(modules)))
	for _, name := range modules {
		r.writePlain("  %s\n", name)
	}
	return nil
}

// Classes lists the object classes detectable by the module argument.
func (r *Runner) Classes(ctx context.Context, cmd *cli.Command) error {
	module := cmd.Args().First()
	if module == "" {
		return fmt.Errorf("%w: module name", shared.ErrMissingArgument)
	}

	r.wire()
	classes, err := r.api.ListClasses(ctx, module)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(classes, true)
	}
	if len(classes) == 0 {
		return r.writePlain("Module %s has no selectable classes\n", module)
	}

	r.writePlainHeader(fmt.Sprintf("Classes for %s (%d)", module, len(classes)))
	for _, name := range classes {
		r.writePlain("  %s\n", name)
	}
	return nil
}
