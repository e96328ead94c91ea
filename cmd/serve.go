package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/server"
	"github.com/desertthunder/sumstream/internal/shared"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the development backend until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	var demo time.Duration
	if cmd.Bool("demo") {
		if demo = cmd.Duration("demo-interval"); demo <= 0 {
			return fmt.Errorf("%w: demo-interval must be positive", shared.ErrInvalidArgument)
		}
	}

	backend := server.NewBackend(server.BackendOptions{
		Token:             cmd.String("token"),
		TicketPath:        config.API.TicketPath,
		StreamPath:        config.API.StreamPath,
		TicketTTL:         config.Realtime.TicketLifetime(),
		HeartbeatInterval: cmd.Duration("heartbeat"),
		Logger:            r.logger,
	})

	ln, err := net.Listen("tcp", cmd.String("addr"))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.serve(ctx, ln, backend, demo)
}

func (r *Runner) serve(ctx context.Context, ln net.Listener, backend *server.Backend, demo time.Duration) error {
	srv := &http.Server{Handler: backend, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.logger.Info("serving development backend", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if n, _ := backend.CloseStreams("server shutting down"); n > 0 {
			r.logger.Info("closed streams", "count", n)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if demo > 0 {
		g.Go(func() error { return publishDemo(gctx, backend, demo) })
	}

	return g.Wait()
}

// publishDemo simulates summarisation requests, one progress step per interval.
func publishDemo(ctx context.Context, backend *server.Backend, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	request, progress := 1, 0.0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		id := fmt.Sprintf("demo-%d", request)
		progress += 0.25
		event := models.Event{Type: models.EventProcessing, RequestID: id, Progress: progress, Message: "summarising"}
		if progress >= 1 {
			event = models.Event{Type: models.EventCompleted, RequestID: id, TokensUsed: 100 * request, Message: "summary ready"}
			request, progress = request+1, 0
		}
		if _, err := backend.Publish(event); err != nil {
			return err
		}
	}
}
