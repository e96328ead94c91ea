package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
)

// BackendOptions configures a [Backend]. Zero values take the defaults of the client configuration.
type BackendOptions struct {
	// Token is the accepted bearer and stream token. Empty accepts any credential.
	Token             string
	TicketPath        string
	StreamPath        string
	TicketTTL         time.Duration
	HeartbeatInterval time.Duration
	Logger            *log.Logger
}

// Backend is a development server for the realtime client.
type Backend struct {
	router  Router
	tickets *TicketHandler
	streams *StreamHandler
}

// NewBackend builds the routes of a development backend.
func NewBackend(opts BackendOptions) *Backend {
	defaults := shared.DefaultConfig()
	if opts.TicketPath == "" {
		opts.TicketPath = defaults.API.TicketPath
	}
	if opts.StreamPath == "" {
		opts.StreamPath = defaults.API.StreamPath
	}
	if opts.TicketTTL == 0 {
		opts.TicketTTL = defaults.Realtime.TicketLifetime()
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "backend")

	tickets := NewTicketHandler(opts.TicketPath, opts.TicketTTL, logger)
	streams := NewStreamHandler(opts.StreamPath, opts.Token, opts.HeartbeatInterval, tickets, logger)

	var router Router = NewBasicRouter()
	router.Use(RequestLogger(logger))
	router.Handler(Guard(tickets, RequireBearer(opts.Token)))
	router.Handler(streams)

	return &Backend{router: router, tickets: tickets, streams: streams}
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

// Publish sends e to every open stream.
func (b *Backend) Publish(e models.Event) (int, error) {
	return b.streams.Publish(e)
}

// CloseStreams ends every open stream with a connection_close event.
func (b *Backend) CloseStreams(message string) (int, error) {
	return b.streams.Publish(models.Event{Type: models.EventConnectionClose, Message: message})
}

// Subscribers returns the number of open streams.
func (b *Backend) Subscribers() int {
	return b.streams.Subscribers()
}

// OutstandingTickets returns the number of issued, unredeemed tickets.
func (b *Backend) OutstandingTickets() int {
	return b.tickets.Outstanding()
}
