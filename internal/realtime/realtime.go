// Package realtime wires one realtime update session: shared connection state, ticket manager,
// stream manager and notifier behind a single [Client].
package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/notify"
	"github.com/desertthunder/sumstream/internal/services"
	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/state"
	"github.com/desertthunder/sumstream/internal/stream"
	"github.com/desertthunder/sumstream/internal/tickets"
)

// Options configures a [Client].
type Options struct {
	Config *shared.Config
	// Identity yields the bearer credential for ticket requests and token mode connections.
	Identity services.IdentityProvider
	// HTTPClient is used for ticket requests. Defaults to [http.DefaultClient].
	HTTPClient *http.Client
	// Transport defaults to an SSE transport.
	Transport stream.Transport
	// Issuer overrides the HTTP ticket client.
	Issuer services.TicketIssuer
	Logger *log.Logger
}

// Client is one realtime session.
type Client struct {
	cfg      *shared.Config
	identity services.IdentityProvider
	logger   *log.Logger

	store    *state.Store
	tickets  *tickets.Manager
	stream   *stream.Manager
	notifier *notify.Notifier
}

// New builds a session from configuration. Configuration warnings are logged, never fatal.
func New(opts Options) (*Client, error) {
	if opts.Config == nil {
		return nil, shared.ErrMissingConfig
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	for _, w := range cfg.Realtime.Validate() {
		logger.Warn("configuration", "warning", w)
	}

	issuer := opts.Issuer
	if issuer == nil {
		if opts.Identity == nil {
			return nil, shared.ErrMissingCredentials
		}
		api := services.NewAPIService(cfg.API.BaseURL, opts.HTTPClient)
		issuer = services.NewTicketClient(api, opts.Identity, cfg.API.TicketPath)
	}

	store := state.NewStore()
	notifier := notify.NewNotifier(cfg.Realtime, logger)
	notifier.Observe(store)

	tm := tickets.NewManager(cfg.Realtime, issuer, store, logger, cfg.API.Purpose)
	sm := stream.NewManager(stream.Options{
		Config:    cfg.Realtime,
		Endpoint:  strings.TrimRight(cfg.API.BaseURL, "/") + cfg.API.StreamPath,
		Purpose:   cfg.API.Purpose,
		Transport: opts.Transport,
		Tickets:   tm,
		Store:     store,
		Logger:    logger,
	})

	return &Client{
		cfg:      cfg,
		identity: opts.Identity,
		logger:   shared.WithLogger(logger, "component", "realtime"),
		store:    store,
		tickets:  tm,
		stream:   sm,
		notifier: notifier,
	}, nil
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() models.ConnectionState {
	return c.store.Current()
}

// Notifications returns the active notifications.
func (c *Client) Notifications() []models.Notification {
	return c.notifier.Current()
}

// OnState registers fn for every state change.
func (c *Client) OnState(fn func(models.ConnectionState)) func() {
	return c.store.Subscribe(func(_, next models.ConnectionState) { fn(next) })
}

// OnEvent registers fn for every published stream event.
func (c *Client) OnEvent(fn func(models.Event)) func() {
	return c.stream.Subscribe(fn)
}

// OnNotifications registers fn for every change of the notification list.
func (c *Client) OnNotifications(fn func([]models.Notification)) func() {
	return c.notifier.Subscribe(fn)
}

// Connect opens the stream. An empty credential is taken from the identity provider in token
// mode; ticket mode does not need one.
func (c *Client) Connect(ctx context.Context, credential string) error {
	if credential == "" && !c.cfg.Realtime.UseTicketAuth && c.identity != nil {
		token, err := c.identity.IdentityToken(ctx)
		if err != nil {
			c.notifier.NotifyError(err)
			return err
		}
		credential = token
	}

	err := c.stream.Connect(ctx, credential)
	if stream.IsRateLimited(err) {
		c.logger.Warn("connect refused", "error", err)
	}
	return err
}

// Disconnect closes the stream and cancels ticket renewal.
func (c *Client) Disconnect() {
	c.tickets.CancelRenewal()
	c.stream.Disconnect()
}

// Reconnect retries with the last credential and a fresh retry budget.
func (c *Client) Reconnect() error {
	return c.stream.Reconnect()
}

// ResetRateLimiting lifts a connection cooldown.
func (c *Client) ResetRateLimiting() {
	c.stream.ResetRateLimiting()
}

// DismissNotification removes a notification by ID.
func (c *Client) DismissNotification(id string) bool {
	return c.notifier.Dismiss(id)
}

// RequestTicket requests a ticket outside of a connection attempt.
func (c *Client) RequestTicket(ctx context.Context, purpose string) (*models.Ticket, error) {
	return c.tickets.RequestTicket(ctx, purpose)
}

// Close ends the session: the stream and every timer are stopped and the state is reset.
func (c *Client) Close() {
	c.stream.Close()
	c.tickets.Close()
	c.notifier.Close()
	c.store.Reset()
	c.logger.Debug("session closed")
}
