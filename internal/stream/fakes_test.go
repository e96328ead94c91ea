package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/state"
)

type openFunc func(ctx context.Context, n int) (<-chan Frame, error)

type fakeTransport struct {
	mu   sync.Mutex
	urls []string
	open openFunc
}

func (f *fakeTransport) Open(ctx context.Context, rawURL string) (<-chan Frame, error) {
	f.mu.Lock()
	f.urls = append(f.urls, rawURL)
	n := len(f.urls)
	f.mu.Unlock()
	return f.open(ctx, n)
}

func (f *fakeTransport) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func (f *fakeTransport) URL(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urls[i]
}

// closesImmediately opens and then drops the connection.
func closesImmediately(ctx context.Context, n int) (<-chan Frame, error) {
	ch := make(chan Frame)
	close(ch)
	return ch, nil
}

// relay forwards frames from in until ctx is done.
func relay(in <-chan Frame) openFunc {
	return func(ctx context.Context, n int) (<-chan Frame, error) {
		out := make(chan Frame)
		go func() {
			defer close(out)
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-in:
					select {
					case out <- f:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out, nil
	}
}

type fakeTickets struct {
	mu       sync.Mutex
	current  string
	issued   int
	consumed map[string]bool
	err      error
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{consumed: make(map[string]bool)}
}

func (f *fakeTickets) IsTicketValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != "" && !f.consumed[f.current]
}

func (f *fakeTickets) CurrentTicket() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.current != ""
}

func (f *fakeTickets) RequestTicket(ctx context.Context, purpose string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.issued++
	f.current = fmt.Sprintf("t%d", f.issued)
	return &models.Ticket{Value: f.current, ExpiresAt: time.Now().Add(30 * time.Second), ExpiresInSeconds: 30}, nil
}

func (f *fakeTickets) MarkTicketAsConsumed(ticket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed[ticket] = true
}

func (f *fakeTickets) Consumed(ticket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumed[ticket]
}

func testConfig() shared.RealtimeConfig {
	cfg := shared.DefaultConfig().Realtime
	cfg.UseTicketAuth = false
	cfg.BaseReconnectDelayMS = 1
	cfg.MaxReconnectDelayMS = 16
	cfg.MaxJitterMS = 0
	cfg.ConnectionTimeoutMS = 1000
	cfg.HeartbeatIntervalMS = 1000
	return cfg
}

func newTestManager(t *testing.T, cfg shared.RealtimeConfig, transport Transport, tickets TicketSource) (*Manager, *state.Store) {
	t.Helper()
	store := state.NewStore()
	m := NewManager(Options{
		Config:    cfg,
		Endpoint:  "http://api.test/api/sse/events",
		Purpose:   "projects",
		Transport: transport,
		Tickets:   tickets,
		Store:     store,
		Logger:    shared.NewLogger(io.Discard),
	})
	m.jitter = func(time.Duration) time.Duration { return 0 }
	t.Cleanup(m.Close)
	return m, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, store *state.Store, status models.Status) {
	t.Helper()
	waitFor(t, "status "+string(status), func() bool { return store.Current().Status == status })
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) record(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}
