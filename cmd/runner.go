package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/sumstream/internal/realtime"
	"github.com/desertthunder/sumstream/internal/services"
	"github.com/desertthunder/sumstream/internal/shared"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	identity   services.IdentityProvider
	httpClient *http.Client
	logger     *log.Logger

	mu     sync.Mutex
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
//
// A nil Config is resolved from the --config flag of each command; a nil Identity is built from
// the resolved configuration.
type RunnerOpts struct {
	Config     *shared.Config
	Identity   services.IdentityProvider
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		identity:   opts.Identity,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		watchCommand, ticketCommand, configCommand, classifyCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig resolves the configuration for a command and applies its log level.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	config := r.config
	if config == nil {
		var err error
		if config, err = shared.ResolveConfig(cmd.String("config")); err != nil {
			return nil, err
		}
	}

	shared.ApplyLogLevel(r.logger, config.Logging.Level)
	return config, nil
}

// newClient builds a realtime session for config.
func (r *Runner) newClient(ctx context.Context, config *shared.Config) (*realtime.Client, error) {
	identity := r.identity
	if identity == nil {
		provider, err := services.NewIdentityProvider(ctx, config.Identity)
		if err != nil {
			return nil, err
		}
		identity = provider
	}

	return realtime.New(realtime.Options{
		Config:     config,
		Identity:   identity,
		HTTPClient: r.httpClient,
		Logger:     r.logger,
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

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

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(text string) error {
	return r.writePlain("%s\n", text)
}
