package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/ui"
)

// ConfigInit writes the embedded example configuration to --config.
func (r *Runner) ConfigInit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	return r.writePlainln(ui.Success("wrote " + path))
}

// ConfigShow prints the resolved configuration as TOML. Secrets are masked.
func (r *Runner) ConfigShow(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	masked := *config
	masked.Identity.Token = mask(masked.Identity.Token)
	masked.Identity.ClientSecret = mask(masked.Identity.ClientSecret)

	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(masked); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return r.writePlain("%s", b.String())
}

// ConfigValidate prints configuration warnings. Warnings never fail the command.
func (r *Runner) ConfigValidate(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	warnings := config.Realtime.Validate()
	if config.Identity.Token == "" && config.Identity.TokenURL == "" {
		warnings = append(warnings, "no identity configured: set [identity] token or token_url")
	}

	if len(warnings) == 0 {
		return r.writePlainln(ui.Success("configuration is valid"))
	}
	for _, w := range warnings {
		if err := r.writePlainln(ui.Warning(w)); err != nil {
			return err
		}
	}
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
