// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// watchCommand streams live updates until interrupted
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Connect and print connection states, notifications and request progress",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"t"},
				Usage:   "Bearer token, overrides [identity] settings",
				Sources: cli.EnvVars("SUMSTREAM_TOKEN"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output one JSON object per line",
			},
		},
		Action: r.Watch,
	}
}

// ticketCommand handles streaming ticket operations
func ticketCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "ticket",
		Usage: "Streaming ticket operations",
		Commands: []*cli.Command{
			{
				Name:  "request",
				Usage: "Request a single-use streaming ticket and print it",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "purpose",
						Usage: "Ticket purpose, defaults to [api] purpose",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.TicketRequest,
			},
		},
	}
}

// configCommand handles configuration files
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write the example configuration",
				Flags:  []cli.Flag{configFlag()},
				Action: r.ConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Print the resolved configuration with secrets masked",
				Flags:  []cli.Flag{configFlag()},
				Action: r.ConfigShow,
			},
			{
				Name:   "validate",
				Usage:  "Report configuration warnings",
				Flags:  []cli.Flag{configFlag()},
				Action: r.ConfigValidate,
			},
		},
	}
}

// classifyCommand runs the error classifier on text
func classifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Classify an error message the way notifications do",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "text"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Classify,
	}
}

// serveCommand runs a local backend that issues tickets and streams events
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a development backend with ticket and event stream endpoints",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: "127.0.0.1:8000",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Accepted bearer and stream token, empty accepts any",
			},
			&cli.DurationFlag{
				Name:  "heartbeat",
				Usage: "Heartbeat interval",
				Value: 15 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "demo",
				Usage: "Publish simulated request progress",
			},
			&cli.DurationFlag{
				Name:  "demo-interval",
				Usage: "Interval between simulated progress events",
				Value: time.Second,
			},
		},
		Action: r.Serve,
	}
}
