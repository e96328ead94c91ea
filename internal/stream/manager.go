package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/state"
)

// backoffSteps is the number of entries in the retry backoff table.
const backoffSteps = 5

// TicketSource provides single-use tickets for ticket authenticated connections.
type TicketSource interface {
	IsTicketValid() bool
	CurrentTicket() (string, bool)
	RequestTicket(ctx context.Context, purpose string) (*models.Ticket, error)
	MarkTicketAsConsumed(ticket string)
}

// EventHandler receives published events in arrival order.
type EventHandler func(models.Event)

type handler struct {
	id int
	fn EventHandler
}

// Options configures a [Manager].
type Options struct {
	Config shared.RealtimeConfig
	// Endpoint is the stream URL without a query string.
	Endpoint  string
	Purpose   string
	Transport Transport
	// Tickets is required when Config.UseTicketAuth is set.
	Tickets TicketSource
	Store   *state.Store
	Logger  *log.Logger
}

// Manager keeps one streaming connection alive.
type Manager struct {
	cfg       shared.RealtimeConfig
	endpoint  string
	purpose   string
	transport Transport
	tickets   TicketSource
	store     *state.Store
	logger    *log.Logger
	now       func() time.Time
	jitter    func(limit time.Duration) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	gen           uint64
	session       uint64
	credential    string
	hasCredential bool
	stopSession   func() bool
	closeConn     context.CancelFunc
	retryCount    int
	retryTimer    *time.Timer
	connectTimer  *time.Timer
	watchdog      *time.Timer
	lastHeartbeat time.Time
	attempts      []time.Time
	cooldownUntil time.Time
	cooldownTimer *time.Timer
	cooldownGen   uint64
	handlers      []handler
	nextHandlerID int
	closed        bool
}

// NewManager creates a stream manager. The transport defaults to [SSETransport].
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	store := opts.Store
	if store == nil {
		store = state.NewStore()
	}
	transport := opts.Transport
	if transport == nil {
		transport = NewSSETransport(nil, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       opts.Config,
		endpoint:  opts.Endpoint,
		purpose:   opts.Purpose,
		transport: transport,
		tickets:   opts.Tickets,
		store:     store,
		logger:    shared.WithLogger(logger, "component", "stream"),
		now:       time.Now,
		jitter:    randomJitter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// Subscribe registers fn for published events and returns a function that removes it.
func (m *Manager) Subscribe(fn EventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextHandlerID
	m.nextHandlerID++
	m.handlers = append(m.handlers, handler{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers = slices.DeleteFunc(m.handlers, func(h handler) bool { return h.id == id })
	}
}

// Connect replaces any existing connection with a new one using credential.
//
// In ticket mode credential may be empty; otherwise it is sent as the token. The connection is
// attempted in the background and retried on failure; Connect only fails when the manager is closed
// or in a rate-limit cooldown ([shared.ErrRateLimited]). When ctx is done the session is
// disconnected.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return shared.ErrClosed
	}
	if err := m.cooldownErrLocked(); err != nil {
		m.setStateLocked(func(st *models.ConnectionState) {
			st.Status = models.StatusRateLimited
			st.LastError = err.Error()
		})
		m.mu.Unlock()
		m.logger.Warn("connect refused during cooldown", "error", err)
		return err
	}

	m.teardownLocked()
	if m.stopSession != nil {
		m.stopSession()
	}
	m.session++
	session := m.session
	m.stopSession = context.AfterFunc(ctx, func() { m.endSession(session) })

	m.credential = credential
	m.hasCredential = true
	m.retryCount = 0
	gen := m.gen
	m.setStateLocked(func(st *models.ConnectionState) {
		st.ReconnectAttempts = 0
	})
	m.mu.Unlock()

	m.logger.Info("connecting", "endpoint", m.endpoint, "ticket_auth", m.ticketMode())
	m.attempt(gen)
	return nil
}

// Disconnect closes the connection, cancels every timer, forgets the credential and resets the
// state to disconnected. It is safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.disconnectLocked()
	m.mu.Unlock()
}

// Reconnect forces a fresh attempt with the last credential and a reset retry budget.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return shared.ErrClosed
	}
	if !m.hasCredential {
		m.mu.Unlock()
		m.logger.Warn("reconnect requested without a credential")
		return shared.ErrNoCredential
	}
	if err := m.cooldownErrLocked(); err != nil {
		m.setStateLocked(func(st *models.ConnectionState) {
			st.Status = models.StatusRateLimited
			st.LastError = err.Error()
		})
		m.mu.Unlock()
		return err
	}

	m.teardownLocked()
	m.retryCount = 0
	gen := m.gen
	m.setStateLocked(func(st *models.ConnectionState) {
		st.ReconnectAttempts = 0
	})
	m.mu.Unlock()

	m.logger.Info("manual reconnect")
	m.attempt(gen)
	return nil
}

// ResetRateLimiting clears the attempt window and any cooldown.
func (m *Manager) ResetRateLimiting() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = nil
	m.cooldownUntil = time.Time{}
	m.stopCooldownLocked()
	m.setStateLocked(func(st *models.ConnectionState) {
		if st.Status == models.StatusRateLimited {
			st.Status = models.StatusDisconnected
			st.LastError = ""
		}
	})
	m.logger.Info("rate limiting reset")
}

// InCooldown reports whether connection attempts are currently refused.
func (m *Manager) InCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownErrLocked() != nil
}

// RetryCount returns the number of retries since the last successful open.
func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// Close disconnects and waits for connection goroutines to exit. Event handlers must not call
// Close.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.disconnectLocked()
	m.stopCooldownLocked()
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) endSession(session uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session != m.session || !m.hasCredential {
		return
	}
	m.logger.Debug("connect context done, disconnecting")
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	m.teardownLocked()
	if m.stopSession != nil {
		m.stopSession()
		m.stopSession = nil
	}
	m.credential = ""
	m.hasCredential = false
	m.retryCount = 0
	m.setStateLocked(func(st *models.ConnectionState) {
		*st = models.ConnectionState{Status: models.StatusDisconnected}
	})
}

// teardownLocked invalidates the current generation and releases its transport and timers.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.closeConn != nil {
		m.closeConn()
		m.closeConn = nil
	}
	stopTimer(&m.retryTimer)
	stopTimer(&m.connectTimer)
	stopTimer(&m.watchdog)
}

func (m *Manager) stopCooldownLocked() {
	m.cooldownGen++
	stopTimer(&m.cooldownTimer)
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// setStateLocked applies fn to the shared state, logging rejected updates.
func (m *Manager) setStateLocked(fn func(*models.ConnectionState)) {
	if _, err := m.store.Update(fn); err != nil {
		m.logger.Warn("state update rejected", "error", err)
	}
}

func (m *Manager) cooldownErrLocked() error {
	if m.cooldownUntil.IsZero() {
		return nil
	}
	remaining := m.cooldownUntil.Sub(m.now())
	if remaining <= 0 {
		return nil
	}
	return fmt.Errorf("%w: too many connection attempts, retry in %s",
		shared.ErrRateLimited, remaining.Round(time.Second))
}

func (m *Manager) ticketMode() bool {
	return m.cfg.UseTicketAuth && m.tickets != nil
}

// backoffDelay returns the table entry for retry index i plus jitter.
func (m *Manager) backoffDelay(i int) time.Duration {
	step := min(i, backoffSteps-1) + 1
	return m.cfg.CalculateReconnectDelay(step) + m.jitter(m.cfg.MaxJitter())
}

// attempt records the attempt in the rolling window and starts the connection goroutine, or
// enters the cooldown when the window is full.
func (m *Manager) attempt(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return
	}
	m.retryTimer = nil

	now := m.now()
	cutoff := now.Add(-m.cfg.RapidFailureWindow())
	m.attempts = slices.DeleteFunc(m.attempts, func(t time.Time) bool { return !t.After(cutoff) })
	m.attempts = append(m.attempts, now)

	if len(m.attempts) >= m.cfg.RapidFailureThreshold {
		m.enterCooldownLocked()
		return
	}

	connCtx, closeConn := context.WithCancel(m.ctx)
	m.closeConn = closeConn

	m.wg.Add(1)
	go m.run(connCtx, gen)
}

func (m *Manager) enterCooldownLocked() {
	cooldown := m.cfg.RateLimitCooldown()
	m.teardownLocked()
	m.attempts = nil
	m.cooldownUntil = m.now().Add(cooldown)

	m.stopCooldownLocked()
	cgen := m.cooldownGen
	m.cooldownTimer = time.AfterFunc(cooldown, func() { m.cooldownExpired(cgen) })

	msg := fmt.Sprintf("Too many connection attempts. Retry in %s.", cooldown.Round(time.Second))
	m.setStateLocked(func(st *models.ConnectionState) {
		st.Status = models.StatusRateLimited
		st.LastError = msg
	})
	m.logger.Warn("connection attempts rate limited", "cooldown", cooldown, "threshold", m.cfg.RapidFailureThreshold)
}

func (m *Manager) cooldownExpired(cgen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cgen != m.cooldownGen {
		return
	}
	m.cooldownTimer = nil
	m.cooldownUntil = time.Time{}
	m.attempts = nil
	m.setStateLocked(func(st *models.ConnectionState) {
		if st.Status == models.StatusRateLimited {
			st.Status = models.StatusDisconnected
			st.LastError = ""
		}
	})
	m.logger.Info("connection cooldown ended")
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	rawURL, err := m.connectionURL(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.transportFailed(gen, err)
		}
		return
	}

	if !m.beginOpen(gen) {
		return
	}

	frames, err := m.transport.Open(ctx, rawURL)
	if err != nil {
		m.transportFailed(gen, err)
		return
	}

	if !m.opened(gen) {
		return
	}

	for frame := range frames {
		m.handleFrame(gen, frame)
	}

	if ctx.Err() == nil {
		m.transportFailed(gen, fmt.Errorf("%w: stream closed by server", shared.ErrTransport))
	}
}

// connectionURL builds the stream URL with a ticket or token credential. In ticket mode the
// held ticket is reused while valid, otherwise a new one is requested; either way it is marked
// consumed before use.
func (m *Manager) connectionURL(ctx context.Context) (string, error) {
	u, err := url.Parse(m.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: stream endpoint: %w", shared.ErrInvalidConfig, err)
	}
	q := u.Query()

	if m.ticketMode() {
		ticket, ok := m.tickets.CurrentTicket()
		if !ok || !m.tickets.IsTicketValid() {
			t, err := m.tickets.RequestTicket(ctx, m.purpose)
			if err != nil {
				return "", err
			}
			ticket = t.Value
		}
		m.tickets.MarkTicketAsConsumed(ticket)
		q.Set("ticket", ticket)
	} else {
		m.mu.Lock()
		credential := m.credential
		m.mu.Unlock()
		if credential == "" {
			return "", shared.ErrNoCredential
		}
		q.Set("token", credential)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) beginOpen(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}

	timeout := m.cfg.ConnectionTimeout()
	if timeout > 0 {
		m.connectTimer = time.AfterFunc(timeout, func() {
			m.transportFailed(gen, fmt.Errorf("%w: connection not opened within %s", shared.ErrTimeout, timeout))
		})
	}

	m.setStateLocked(func(st *models.ConnectionState) {
		st.Status = models.StatusConnecting
	})
	return true
}

func (m *Manager) opened(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}

	stopTimer(&m.connectTimer)
	m.retryCount = 0
	m.lastHeartbeat = m.now()
	m.armWatchdogLocked(gen)

	m.setStateLocked(func(st *models.ConnectionState) {
		st.Status = models.StatusConnected
		st.ReconnectAttempts = 0
		st.LastError = ""
	})
	m.logger.Info("stream connected")
	return true
}

func (m *Manager) armWatchdogLocked(gen uint64) {
	interval := m.cfg.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	m.watchdog = time.AfterFunc(interval, func() { m.checkHeartbeat(gen) })
}

func (m *Manager) checkHeartbeat(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closed {
		return
	}

	silent := m.now().Sub(m.lastHeartbeat)
	if silent <= m.cfg.HeartbeatTimeout() {
		m.armWatchdogLocked(gen)
		return
	}

	m.logger.Warn("heartbeat timeout, forcing reconnect", "silent_for", silent.Round(time.Millisecond))
	m.teardownLocked()
	err := fmt.Errorf("%w: no heartbeat for %s", shared.ErrHeartbeatTimeout, silent.Round(time.Second))
	m.retryLocked(err, 0)
}

// transportFailed closes the connection of gen and schedules the next attempt.
func (m *Manager) transportFailed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closed {
		return
	}

	m.logger.Warn("transport error", "error", err, "retry", m.retryCount, "max", m.cfg.MaxReconnectAttempts)
	m.teardownLocked()

	if m.cooldownErrLocked() != nil {
		return
	}
	m.retryLocked(err, -1)
}

// retryLocked schedules the next attempt after delay, or after the backoff table entry when
// delay is negative. With no retries left the state becomes failed, or rate_limited when the
// attempt window is full.
func (m *Manager) retryLocked(cause error, delay time.Duration) {
	if m.retryCount >= m.cfg.MaxReconnectAttempts {
		if len(m.attempts) >= m.cfg.RapidFailureThreshold {
			m.enterCooldownLocked()
			return
		}
		msg := fmt.Sprintf("Connection failed after %d attempts: %v", m.retryCount+1, cause)
		m.setStateLocked(func(st *models.ConnectionState) {
			st.Status = models.StatusFailed
			st.LastError = msg
		})
		m.logger.Error("giving up on stream", "attempts", m.retryCount+1, "error", cause)
		return
	}

	if delay < 0 {
		delay = m.backoffDelay(m.retryCount)
	}
	m.retryCount++
	attempt := m.retryCount
	gen := m.gen

	m.setStateLocked(func(st *models.ConnectionState) {
		if !state.CanTransition(st.Status, models.StatusReconnecting) {
			st.Status = models.StatusError
		} else {
			st.Status = models.StatusReconnecting
		}
		st.ReconnectAttempts = attempt
		st.LastError = cause.Error()
	})

	m.logger.Info("scheduling reconnect", "attempt", attempt, "in", delay.Round(time.Millisecond))
	m.retryTimer = time.AfterFunc(delay, func() { m.attempt(gen) })
}

func (m *Manager) handleFrame(gen uint64, frame Frame) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	kind := models.EventType(frame.Event)
	if kind == models.EventHeartbeat {
		m.lastHeartbeat = m.now()
		m.mu.Unlock()
		return
	}
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()

	switch kind {
	case models.EventProcessing, models.EventCompleted, models.EventError, models.EventBackendError, models.EventConnectionClose:
	default:
		m.logger.Debug("ignoring unknown event", "event", frame.Event)
		return
	}

	event, err := ParseEvent(frame)
	if err != nil {
		if kind != models.EventConnectionClose {
			m.logger.Warn("dropping event", "event", frame.Event, "error", err)
			return
		}
		event = models.Event{Type: kind, ID: frame.ID, Timestamp: m.now()}
	}

	if kind == models.EventBackendError {
		m.logger.Warn("backend reported an error", "message", event.Message, "request_id", event.RequestID)
	}

	for _, h := range handlers {
		h.fn(event)
	}

	if kind == models.EventConnectionClose {
		m.logger.Info("server closed the stream", "message", event.Message)
		m.mu.Lock()
		if gen == m.gen {
			m.disconnectLocked()
		}
		m.mu.Unlock()
	}
}

// ParseEvent decodes the JSON object payload of frame.
func ParseEvent(frame Frame) (models.Event, error) {
	var event models.Event
	if frame.Data == "" {
		return event, fmt.Errorf("%w: empty payload", shared.ErrMalformedPayload)
	}

	raw := json.RawMessage(frame.Data)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return event, fmt.Errorf("%w: %w", shared.ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, fmt.Errorf("%w: %w", shared.ErrMalformedPayload, err)
	}

	event.Type = models.EventType(frame.Event)
	if event.ID == "" {
		event.ID = frame.ID
	}
	event.Raw = raw
	return event, nil
}

// IsRateLimited reports whether err is a cooldown refusal.
func IsRateLimited(err error) bool {
	return errors.Is(err, shared.ErrRateLimited)
}
