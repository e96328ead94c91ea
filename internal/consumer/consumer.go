// package consumer maps stream events to per-request progress
package consumer

import (
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
)

// RequestState is the derived progress of one summarisation request.
type RequestState string

const (
	RequestProcessing RequestState = "processing"
	RequestCompleted  RequestState = "completed"
	RequestFailed     RequestState = "failed"
)

// Request is the latest known state of a request seen on the stream.
type Request struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"projectId,omitempty"`
	State      RequestState `json:"state"`
	Status     string       `json:"status,omitempty"`
	Progress   float64      `json:"progress"`
	Message    string       `json:"message,omitempty"`
	Warning    string       `json:"warning,omitempty"`
	TokensUsed int          `json:"tokensUsed"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Done reports whether the request reached a final state.
func (r Request) Done() bool {
	return r.State == RequestCompleted || r.State == RequestFailed
}

// Tracker folds events into [Request] records.
type Tracker struct {
	logger   *log.Logger
	progress *rate.Sometimes

	mu       sync.Mutex
	requests map[string]*Request
	order    []string
	tokens   int
	onChange []func(Request)
}

// NewTracker creates a tracker that logs processing progress at most once per logEvery.
func NewTracker(logger *log.Logger, logEvery time.Duration) *Tracker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Tracker{
		logger:   shared.WithLogger(logger, "component", "consumer"),
		progress: &rate.Sometimes{First: 1, Interval: logEvery},
		requests: make(map[string]*Request),
	}
}

// OnChange registers fn to receive every updated request.
func (t *Tracker) OnChange(fn func(Request)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Handle applies e. Events without a request ID only update logs.
func (t *Tracker) Handle(e models.Event) {
	if e.RequestID == "" {
		switch e.Type {
		case models.EventBackendError:
			t.logger.Warn("backend error", "message", e.Message)
		case models.EventConnectionClose:
			t.logger.Info("stream closed by server", "message", e.Message)
		default:
			t.logger.Debug("event without request id", "type", e.Type)
		}
		return
	}

	t.mu.Lock()
	r, ok := t.requests[e.RequestID]
	if !ok {
		r = &Request{ID: e.RequestID, State: RequestProcessing}
		t.requests[e.RequestID] = r
		t.order = append(t.order, e.RequestID)
	}
	if e.ProjectID != "" {
		r.ProjectID = e.ProjectID
	}
	if e.Status != "" {
		r.Status = e.Status
	}
	r.UpdatedAt = e.Timestamp

	switch e.Type {
	case models.EventProcessing:
		if !r.Done() {
			r.State = RequestProcessing
		}
		r.Progress = max(r.Progress, e.Progress)
		if e.Message != "" {
			r.Message = e.Message
		}
	case models.EventCompleted:
		r.State = RequestCompleted
		r.Progress = 1
		r.TokensUsed += e.TokensUsed
		t.tokens += e.TokensUsed
		if e.Message != "" {
			r.Message = e.Message
		}
	case models.EventError:
		r.State = RequestFailed
		r.Message = e.Message
	case models.EventBackendError:
		r.Warning = e.Message
	}

	snapshot := *r
	listeners := slices.Clone(t.onChange)
	t.mu.Unlock()

	switch e.Type {
	case models.EventProcessing:
		t.progress.Do(func() {
			t.logger.Info("processing", "request", snapshot.ID, "progress", snapshot.Progress)
		})
	case models.EventCompleted:
		t.logger.Info("request completed", "request", snapshot.ID, "tokens", snapshot.TokensUsed)
	case models.EventError:
		t.logger.Warn("request failed", "request", snapshot.ID, "message", snapshot.Message)
	}

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Requests returns the tracked requests in first-seen order.
func (t *Tracker) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Request, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.requests[id])
	}
	return out
}

// Request returns the tracked request with id.
func (t *Tracker) Request(id string) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.requests[id]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// TotalTokens returns the tokens reported by completed requests.
func (t *Tracker) TotalTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens
}
