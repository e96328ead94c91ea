package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/services"
	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/stream"
	tu "github.com/desertthunder/sumstream/internal/testing"
)

func newTestBackend(t *testing.T, opts BackendOptions) (*Backend, *httptest.Server) {
	t.Helper()
	opts.Logger = shared.NewLogger(io.Discard)
	b := NewBackend(opts)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

func issue(t *testing.T, srv *httptest.Server, bearer string) (*models.Ticket, error) {
	t.Helper()
	api := services.NewAPIService(srv.URL, srv.Client())
	client := services.NewTicketClient(api, tu.StaticIdentity(bearer), "")
	return client.IssueTicket(context.Background(), "projects")
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

func next(t *testing.T, frames <-chan stream.Frame) stream.Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("stream closed")
		}
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
	}
	return stream.Frame{}
}

func TestRouter(t *testing.T) {
	t.Run("Rejects Other Methods", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodPost, "/things", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things", nil))
		if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
			t.Errorf("code = %d, allow = %q", rec.Code, rec.Header().Get("Allow"))
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things", nil))
		if rec.Code != http.StatusCreated {
			t.Errorf("code = %d, want 201", rec.Code)
		}
	})

	t.Run("Applies Middleware In Registration Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			order = append(order, "handler")
		}))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if got := strings.Join(order, ","); got != "first,second,handler" {
			t.Errorf("order = %s", got)
		}
	})

	t.Run("Handler Registers Declared Routes", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handler(routes{
			routes: []Route{{Method: http.MethodPost, Path: "/a"}, {Method: http.MethodGet, Path: "/b"}},
			code:   http.StatusAccepted,
		})

		tests := []struct {
			method, path string
			want         int
		}{
			{http.MethodPost, "/a", http.StatusAccepted},
			{http.MethodGet, "/b", http.StatusAccepted},
			{http.MethodGet, "/a", http.StatusMethodNotAllowed},
			{http.MethodGet, "/c", http.StatusNotFound},
		}
		for _, tt := range tests {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("%s %s: code = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
		}
	})

	t.Run("Guard Applies Only To Its Handler", func(t *testing.T) {
		var r Router = NewBasicRouter()
		r.Handler(Guard(routes{routes: []Route{{Method: http.MethodPost, Path: "/guarded"}}, code: http.StatusOK}, RequireBearer("secret")))
		r.Handler(routes{routes: []Route{{Method: http.MethodPost, Path: "/open"}}, code: http.StatusOK})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guarded", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("guarded without bearer: code = %d, want 401", rec.Code)
		}

		req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("guarded with bearer: code = %d, want 200", rec.Code)
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/open", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("open route: code = %d, want 200", rec.Code)
		}
	})

	t.Run("RequireBearer", func(t *testing.T) {
		tests := []struct {
			name, token, header string
			want                int
		}{
			{"missing header", "secret", "", http.StatusUnauthorized},
			{"wrong token", "secret", "Bearer nope", http.StatusUnauthorized},
			{"matching token", "secret", "Bearer secret", http.StatusOK},
			{"any token when unset", "", "Bearer anything", http.StatusOK},
			{"empty bearer when unset", "", "Bearer ", http.StatusUnauthorized},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := RequireBearer(tt.token)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				if rec.Code != tt.want {
					t.Errorf("code = %d, want %d", rec.Code, tt.want)
				}
			})
		}
	})
}

type routes struct {
	routes []Route
	code   int
}

func (h routes) Routes() []Route { return h.routes }

func (h routes) ServeHTTP(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(h.code) }

func TestTicketHandler(t *testing.T) {
	t.Run("Issues Tickets To Authenticated Callers", func(t *testing.T) {
		b, srv := newTestBackend(t, BackendOptions{Token: "secret", TicketTTL: 30 * time.Second})

		ticket, err := issue(t, srv, "secret")
		if err != nil {
			t.Fatalf("IssueTicket() error = %v", err)
		}
		if !strings.HasPrefix(ticket.Value, "tkt_") || ticket.ExpiresInSeconds != 30 {
			t.Errorf("ticket = %+v", ticket)
		}
		if time.Until(ticket.ExpiresAt) <= 0 {
			t.Error("ticket already expired")
		}
		if b.OutstandingTickets() != 1 {
			t.Errorf("outstanding = %d, want 1", b.OutstandingTickets())
		}
	})

	t.Run("Rejects A Wrong Bearer", func(t *testing.T) {
		_, srv := newTestBackend(t, BackendOptions{Token: "secret"})

		_, err := issue(t, srv, "wrong")
		if code := services.StatusCode(err); code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 (err %v)", code, err)
		}
	})

	t.Run("Backend Serves Only Declared Methods", func(t *testing.T) {
		_, srv := newTestBackend(t, BackendOptions{})

		resp, err := srv.Client().Get(srv.URL + "/api/sse/tickets")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
			t.Errorf("status = %d, allow = %q", resp.StatusCode, resp.Header.Get("Allow"))
		}
	})

	t.Run("Requires A Purpose", func(t *testing.T) {
		_, srv := newTestBackend(t, BackendOptions{})

		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/sse/tickets", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer x")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("Redeems Once And Rejects Expired Tickets", func(t *testing.T) {
		h := NewTicketHandler("/t", time.Minute, shared.NewLogger(io.Discard))
		now := time.Now()
		h.now = func() time.Time { return now }

		ticket := h.Issue()
		if err := h.Redeem(ticket.Value); err != nil {
			t.Fatalf("first Redeem() error = %v", err)
		}
		if err := h.Redeem(ticket.Value); !errors.Is(err, errUnknownTicket) {
			t.Errorf("second Redeem() error = %v, want errUnknownTicket", err)
		}

		stale := h.Issue()
		now = now.Add(2 * time.Minute)
		if err := h.Redeem(stale.Value); !errors.Is(err, errExpiredTicket) {
			t.Errorf("Redeem() error = %v, want errExpiredTicket", err)
		}
	})
}

func TestStreamHandler(t *testing.T) {
	transportFor := func(srv *httptest.Server) *stream.SSETransport {
		return stream.NewSSETransport(srv.Client(), shared.NewLogger(io.Discard))
	}

	t.Run("Streams Published Events To A Ticket Holder", func(t *testing.T) {
		b, srv := newTestBackend(t, BackendOptions{})
		ticket, err := issue(t, srv, "id-token")
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		frames, err := transportFor(srv).Open(ctx, srv.URL+"/api/sse/events?ticket="+ticket.Value)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		waitFor(t, "subscriber", func() bool { return b.Subscribers() == 1 })

		n, err := b.Publish(models.Event{Type: models.EventProcessing, RequestID: "r1", Progress: 0.5})
		if err != nil || n != 1 {
			t.Fatalf("Publish() = %d, %v", n, err)
		}

		f := next(t, frames)
		event, err := stream.ParseEvent(f)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		if event.Type != models.EventProcessing || event.RequestID != "r1" || event.Progress != 0.5 {
			t.Errorf("event = %+v", event)
		}
		if f.ID != "1" {
			t.Errorf("frame id = %q, want 1", f.ID)
		}
	})

	t.Run("Rejects A Reused Ticket", func(t *testing.T) {
		_, srv := newTestBackend(t, BackendOptions{})
		ticket, err := issue(t, srv, "id-token")
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		url := srv.URL + "/api/sse/events?ticket=" + ticket.Value
		if _, err := transportFor(srv).Open(ctx, url); err != nil {
			t.Fatalf("first Open() error = %v", err)
		}

		_, err = transportFor(srv).Open(ctx, url)
		if !errors.Is(err, shared.ErrTransport) || services.StatusCode(err) != http.StatusUnauthorized {
			t.Errorf("second Open() error = %v, want 401 transport error", err)
		}
	})

	t.Run("Token Mode Checks The Token", func(t *testing.T) {
		_, srv := newTestBackend(t, BackendOptions{Token: "secret"})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if _, err := transportFor(srv).Open(ctx, srv.URL+"/api/sse/events?token=nope"); services.StatusCode(err) != http.StatusUnauthorized {
			t.Errorf("Open() error = %v, want 401", err)
		}
		if _, err := transportFor(srv).Open(ctx, srv.URL+"/api/sse/events?token=secret"); err != nil {
			t.Errorf("Open() error = %v", err)
		}
	})

	t.Run("Writes Heartbeats", func(t *testing.T) {
		_, srv := newTestBackend(t, BackendOptions{HeartbeatInterval: 10 * time.Millisecond})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		frames, err := transportFor(srv).Open(ctx, srv.URL+"/api/sse/events?token=any")
		if err != nil {
			t.Fatal(err)
		}
		if f := next(t, frames); f.Event != string(models.EventHeartbeat) {
			t.Errorf("frame = %+v, want heartbeat", f)
		}
	})

	t.Run("Connection Close Ends The Stream", func(t *testing.T) {
		b, srv := newTestBackend(t, BackendOptions{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		frames, err := transportFor(srv).Open(ctx, srv.URL+"/api/sse/events?token=any")
		if err != nil {
			t.Fatal(err)
		}
		waitFor(t, "subscriber", func() bool { return b.Subscribers() == 1 })

		if _, err := b.CloseStreams("maintenance"); err != nil {
			t.Fatal(err)
		}
		if f := next(t, frames); f.Event != string(models.EventConnectionClose) {
			t.Errorf("frame = %+v, want connection_close", f)
		}

		select {
		case _, ok := <-frames:
			if ok {
				t.Error("expected the stream to end")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("stream still open")
		}
		waitFor(t, "unsubscribe", func() bool { return b.Subscribers() == 0 })
	})
}
