package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/sumstream/internal/notify"
	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/ui"
)

// Classify prints the classification of an error message.
func (r *Runner) Classify(ctx context.Context, cmd *cli.Command) error {
	text := cmd.StringArg("text")
	if text == "" {
		return fmt.Errorf("%w: text", shared.ErrMissingArgument)
	}

	c := notify.Classify(text)
	if cmd.Bool("json") {
		return r.writeJSON(c, false)
	}
	return r.writePlainln(ui.ClassificationLine(c))
}
