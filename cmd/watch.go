package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/sumstream/internal/consumer"
	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/ui"
)

// progressLogInterval throttles processing progress logs.
const progressLogInterval = 2 * time.Second

type watchLine struct {
	Kind         string                  `json:"kind"`
	State        *models.ConnectionState `json:"state,omitempty"`
	Notification *models.Notification    `json:"notification,omitempty"`
	Event        *models.Event           `json:"event,omitempty"`
	Request      *consumer.Request       `json:"request,omitempty"`
}

// Watch connects and prints updates until interrupted.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	if token := cmd.String("token"); token != "" {
		config.Identity.Token = token
	}

	client, err := r.newClient(ctx, config)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	asJSON := cmd.Bool("json")
	tracker := consumer.NewTracker(r.logger, progressLogInterval)
	tracker.OnChange(func(req consumer.Request) {
		if asJSON {
			_ = r.writeJSON(watchLine{Kind: "request", Request: &req}, false)
			return
		}
		_ = r.writePlainln(ui.RequestLine(req))
	})

	g, gctx := errgroup.WithContext(ctx)
	states := client.States(gctx)
	events := client.Events(gctx)
	lists := client.NotificationLists(gctx)

	g.Go(func() error {
		for st := range states {
			if asJSON {
				if err := r.writeJSON(watchLine{Kind: "state", State: &st}, false); err != nil {
					return err
				}
				continue
			}
			if err := r.writePlainln(ui.StateLine(st)); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		for e := range events {
			tracker.Handle(e)
			if asJSON {
				if err := r.writeJSON(watchLine{Kind: "event", Event: &e}, false); err != nil {
					return err
				}
			}
		}
		return nil
	})

	g.Go(func() error {
		seen := make(map[string]bool)
		for list := range lists {
			for _, n := range list {
				if seen[n.ID] {
					continue
				}
				seen[n.ID] = true
				if asJSON {
					if err := r.writeJSON(watchLine{Kind: "notification", Notification: &n}, false); err != nil {
						return err
					}
					continue
				}
				if err := r.writePlainln(ui.NotificationLine(n)); err != nil {
					return err
				}
			}
		}
		return nil
	})

	g.Go(func() error {
		return client.Connect(gctx, "")
	})

	err = g.Wait()
	r.logger.Info("watch stopped", "requests", len(tracker.Requests()), "tokens", tracker.TotalTokens())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
