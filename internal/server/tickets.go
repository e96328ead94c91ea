package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
)

var (
	errUnknownTicket = errors.New("unknown or already used ticket")
	errExpiredTicket = errors.New("ticket expired")
)

// TicketHandler issues single-use streaming tickets.
type TicketHandler struct {
	path   string
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	issued map[string]time.Time
}

// NewTicketHandler serves ticket requests on path. Tickets expire after ttl.
func NewTicketHandler(path string, ttl time.Duration, logger *log.Logger) *TicketHandler {
	return &TicketHandler{
		path:   path,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		issued: make(map[string]time.Time),
	}
}

func (h *TicketHandler) Routes() []Route {
	return []Route{{Method: http.MethodPost, Path: h.path}}
}

func (h *TicketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil || body.Purpose == "" {
		http.Error(w, "purpose is required", http.StatusBadRequest)
		return
	}

	ticket := h.Issue()
	h.logger.Debug("ticket issued", "purpose", body.Purpose, "expires_at", ticket.ExpiresAt)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ticket)
}

// Issue creates and remembers a new ticket.
func (h *TicketHandler) Issue() models.Ticket {
	now := h.now()
	ticket := models.Ticket{
		Value:            "tkt_" + shared.GenerateID(),
		ExpiresAt:        now.Add(h.ttl),
		ExpiresInSeconds: int(h.ttl.Seconds()),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for value, expiresAt := range h.issued {
		if now.After(expiresAt) {
			delete(h.issued, value)
		}
	}
	h.issued[ticket.Value] = ticket.ExpiresAt
	return ticket
}

// Redeem consumes a ticket. Every ticket can be redeemed once.
func (h *TicketHandler) Redeem(value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	expiresAt, ok := h.issued[value]
	if !ok {
		return errUnknownTicket
	}
	delete(h.issued, value)
	if h.now().After(expiresAt) {
		return errExpiredTicket
	}
	return nil
}

// Outstanding returns the number of issued, unredeemed tickets.
func (h *TicketHandler) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.issued)
}
