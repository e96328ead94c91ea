package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// TicketRequest requests a single ticket and prints it as JSON.
func (r *Runner) TicketRequest(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	purpose := cmd.String("purpose")
	if purpose == "" {
		purpose = config.API.Purpose
	}

	client, err := r.newClient(ctx, config)
	if err != nil {
		return err
	}
	defer client.Close()

	r.logger.Debug("requesting ticket", "purpose", purpose)
	ticket, err := client.RequestTicket(ctx, purpose)
	if err != nil {
		return fmt.Errorf("ticket request failed: %w", err)
	}

	return r.writeJSON(ticket, cmd.Bool("pretty"))
}
