package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
)

// TicketClient issues tickets from the backend's ticket endpoint.
type TicketClient struct {
	api      *APIService
	identity IdentityProvider
	path     string
	now      func() time.Time
}

type ticketRequest struct {
	Purpose string `json:"purpose"`
}

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresAt string `json:"expiresAt"`
	ExpiresIn int    `json:"expiresIn"`
}

// NewTicketClient creates a client that posts to path on api, authenticated by identity.
func NewTicketClient(api *APIService, identity IdentityProvider, path string) *TicketClient {
	if path == "" {
		path = "/api/sse/tickets"
	}
	return &TicketClient{api: api, identity: identity, path: path, now: time.Now}
}

// IssueTicket posts {purpose} with the identity bearer token and parses the issued ticket.
func (c *TicketClient) IssueTicket(ctx context.Context, purpose string) (*models.Ticket, error) {
	token, err := c.identity.IdentityToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, shared.ErrNotAuthenticated
	}

	body, err := json.Marshal(ticketRequest{Purpose: purpose})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket request: %w", err)
	}

	resp, err := c.api.Post(ctx, c.path, token, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}
	}

	var tr ticketResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidTicket, err)
	}
	return c.parse(tr)
}

func (c *TicketClient) parse(tr ticketResponse) (*models.Ticket, error) {
	if tr.Ticket == "" {
		return nil, fmt.Errorf("%w: empty ticket", shared.ErrInvalidTicket)
	}

	t := &models.Ticket{Value: tr.Ticket, ExpiresInSeconds: tr.ExpiresIn}
	switch {
	case tr.ExpiresAt != "":
		at, err := time.Parse(time.RFC3339Nano, tr.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("%w: expiresAt %q: %w", shared.ErrInvalidTicket, tr.ExpiresAt, err)
		}
		t.ExpiresAt = at
	case tr.ExpiresIn > 0:
		t.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		return nil, fmt.Errorf("%w: missing expiry", shared.ErrInvalidTicket)
	}
	return t, nil
}
