package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/sumstream/internal/models"
)

// subscriberBuffer is the number of events queued per stream before new ones are dropped.
const subscriberBuffer = 64

type frame struct {
	event string
	id    uint64
	data  []byte
	close bool
}

// StreamHandler serves the event stream and fans published events out to every open stream.
type StreamHandler struct {
	path      string
	token     string
	heartbeat time.Duration
	tickets   *TicketHandler
	logger    *log.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[chan frame]struct{}
}

// NewStreamHandler serves streams on path. Streams are opened with a ticket from tickets or, when
// token is set, with ?token=<token>.
func NewStreamHandler(path, token string, heartbeat time.Duration, tickets *TicketHandler, logger *log.Logger) *StreamHandler {
	return &StreamHandler{
		path:      path,
		token:     token,
		heartbeat: heartbeat,
		tickets:   tickets,
		logger:    logger,
		subs:      make(map[chan frame]struct{}),
	}
}

func (h *StreamHandler) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: h.path}}
}

func (h *StreamHandler) authorize(r *http.Request) error {
	q := r.URL.Query()
	if ticket := q.Get("ticket"); ticket != "" {
		return h.tickets.Redeem(ticket)
	}
	token := q.Get("token")
	if token == "" || (h.token != "" && token != h.token) {
		return fmt.Errorf("invalid token")
	}
	return nil
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r); err != nil {
		h.logger.Warn("stream rejected", "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case now := <-tick:
			data, _ := json.Marshal(map[string]any{"timestamp": now.UTC()})
			if err := writeFrame(w, frame{event: string(models.EventHeartbeat), data: data}); err != nil {
				return
			}
		case f := <-sub:
			if err := writeFrame(w, f); err != nil {
				return
			}
			if f.close {
				flusher.Flush()
				return
			}
		}
		flusher.Flush()
	}
}

func writeFrame(w http.ResponseWriter, f frame) error {
	if f.id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", f.id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
	return err
}

func (h *StreamHandler) subscribe() chan frame {
	ch := make(chan frame, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Info("stream opened", "subscribers", n)
	return ch
}

func (h *StreamHandler) unsubscribe(ch chan frame) {
	h.mu.Lock()
	delete(h.subs, ch)
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Info("stream closed", "subscribers", n)
}

// Publish sends e to every open stream and returns how many received it.
func (h *StreamHandler) Publish(e models.Event) (int, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("encoding event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	f := frame{event: string(e.Type), id: h.nextID, data: data, close: e.Type == models.EventConnectionClose}

	delivered := 0
	for ch := range h.subs {
		select {
		case ch <- f:
			delivered++
		default:
			h.logger.Warn("subscriber queue full, dropping event", "event", e.Type)
		}
	}
	return delivered, nil
}

// Subscribers returns the number of open streams.
func (h *StreamHandler) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
