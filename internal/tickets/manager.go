package tickets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/services"
	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/state"
)

// ConsumedCapacity is the number of consumed ticket values remembered.
const ConsumedCapacity = 10

// maxRateLimitShift caps the failure scaling of the request interval at 2^3.
const maxRateLimitShift = 3

// Manager requests, validates and renews tickets for one session.
type Manager struct {
	cfg     shared.RealtimeConfig
	issuer  services.TicketIssuer
	store   *state.Store
	logger  *log.Logger
	purpose string
	now     func() time.Time

	// serializes RequestTicket so at most one ticket is in flight
	requestMu sync.Mutex

	mu                  sync.Mutex
	consumed            *lru.Cache[string, struct{}]
	consecutiveFailures int
	lastFailure         time.Time
	lastRequest         time.Time
	renewal             *time.Timer
	renewalGen          uint64
	closed              bool

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewManager creates a ticket manager bound to store. purpose is used for renewals until a
// [Manager.RequestTicket] call names another.
func NewManager(cfg shared.RealtimeConfig, issuer services.TicketIssuer, store *state.Store, logger *log.Logger, purpose string) *Manager {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	consumed, _ := lru.New[string, struct{}](ConsumedCapacity)
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:      cfg,
		issuer:   issuer,
		store:    store,
		logger:   shared.WithLogger(logger, "component", "tickets"),
		purpose:  purpose,
		now:      time.Now,
		consumed: consumed,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.unsubscribe = store.Subscribe(m.observe)
	return m
}

// RequestTicket obtains a fresh ticket for purpose and stores it in the connection state.
//
// The call waits out the request rate limit instead of failing. It fails with
// [shared.ErrTicketAuthDisabled], [shared.ErrCircuitOpen], [shared.ErrTransientTicket] or
// [shared.ErrPermanentTicket].
func (m *Manager) RequestTicket(ctx context.Context, purpose string) (*models.Ticket, error) {
	if !m.cfg.UseTicketAuth {
		return nil, shared.ErrTicketAuthDisabled
	}

	m.requestMu.Lock()
	defer m.requestMu.Unlock()

	if purpose == "" {
		purpose = m.purpose
	}

	if err := m.admit(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.purpose = purpose
	m.mu.Unlock()

	held := m.store.Current()
	if _, err := m.store.Update(func(st *models.ConnectionState) {
		st.Status = models.StatusRequestingTicket
		st.ClearTicket()
	}); err != nil {
		m.logger.Warn("could not enter requesting_ticket", "error", err)
	}

	ticket, err := m.issue(ctx, purpose)
	if err != nil {
		return nil, m.fail(held, err)
	}

	m.mu.Lock()
	m.consecutiveFailures = 0
	m.lastFailure = time.Time{}
	m.mu.Unlock()

	if _, err := m.store.Update(func(st *models.ConnectionState) {
		st.Status = models.StatusConnected
		st.SetTicket(*ticket)
		st.LastError = ""
	}); err != nil {
		return nil, err
	}

	m.logger.Info("ticket issued", "purpose", purpose, "expires_at", ticket.ExpiresAt.Format(time.RFC3339))
	return ticket, nil
}

// admit applies the circuit breaker and then the rate limiter. An open circuit fails without
// waiting, and is checked again after every rate-limit wait. On success the request time is recorded.
func (m *Manager) admit(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return shared.ErrClosed
		}
		if err := m.circuitLocked(); err != nil {
			m.mu.Unlock()
			m.logger.Warn("ticket request blocked", "error", err)
			m.store.Transition(models.StatusError, err.Error())
			return err
		}

		interval := m.cfg.TicketRateLimitInterval() << min(m.consecutiveFailures, maxRateLimitShift)
		wait := interval - m.now().Sub(m.lastRequest)
		if m.lastRequest.IsZero() || wait <= 0 {
			m.lastRequest = m.now()
			m.mu.Unlock()
			return nil
		}
		failures := m.consecutiveFailures
		m.mu.Unlock()

		m.logger.Debug("ticket request rate limited", "wait", wait, "failures", failures)
		if err := m.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (m *Manager) circuitLocked() error {
	if m.consecutiveFailures < m.cfg.CircuitBreakerThreshold {
		return nil
	}
	cooldown := m.cfg.CircuitBreakerCooldown(m.consecutiveFailures)
	remaining := m.lastFailure.Add(cooldown).Sub(m.now())
	if remaining <= 0 {
		m.logger.Debug("circuit breaker half-open", "failures", m.consecutiveFailures)
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures, retry in %s",
		shared.ErrCircuitOpen, m.consecutiveFailures, remaining.Round(time.Second))
}

func (m *Manager) issue(ctx context.Context, purpose string) (*models.Ticket, error) {
	attempts := max(m.cfg.MaxTicketRetryAttempts, 1)
	attempt := 0

	op := func() (*models.Ticket, error) {
		attempt++
		t, err := m.issuer.IssueTicket(ctx, purpose)
		if err == nil {
			return t, nil
		}
		m.logger.Warn("ticket request attempt failed", "attempt", attempt, "max", attempts, "status", services.StatusCode(err), "error", err)
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     m.cfg.TicketRetryDelay(),
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         m.cfg.TicketRetryDelay() << attempts,
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Debug("retrying ticket request", "in", next)
		}))
}

func (m *Manager) fail(held models.ConnectionState, err error) error {
	transient := retryable(err)

	m.mu.Lock()
	m.consecutiveFailures++
	m.lastFailure = m.now()
	failures := m.consecutiveFailures
	m.mu.Unlock()

	kind := shared.ErrPermanentTicket
	if transient {
		kind = shared.ErrTransientTicket
	}
	wrapped := fmt.Errorf("%w: ticket request failed: %w", kind, err)

	m.store.Update(func(st *models.ConnectionState) {
		st.Status = models.StatusError
		st.LastError = wrapped.Error()
		if transient && held.HasTicket() {
			st.Ticket, st.TicketExpiresAt = held.Ticket, held.TicketExpiresAt
		} else {
			st.ClearTicket()
		}
	})

	m.logger.Error("ticket request failed", "transient", transient, "failures", failures, "status", services.StatusCode(err), "error", err)
	return wrapped
}

// retryable is the transient classification, except that a missing identity is never retried.
func retryable(err error) bool {
	if errors.Is(err, shared.ErrNotAuthenticated) || errors.Is(err, shared.ErrInvalidTicket) {
		return false
	}
	return services.IsTransient(err)
}

// IsTicketValid reports whether the held ticket can open a new connection: it exists, has not
// been consumed, and is outside its refresh buffer.
func (m *Manager) IsTicketValid() bool {
	st := m.store.Current()
	if !st.HasTicket() {
		return false
	}

	m.mu.Lock()
	consumed := m.consumed.Contains(st.Ticket)
	m.mu.Unlock()
	if consumed {
		return false
	}

	return st.TicketExpiresAt.Add(-m.cfg.TicketRefreshBuffer()).After(m.now())
}

// MarkTicketAsConsumed records that ticket was handed to the transport.
//
// The set keeps the ConsumedCapacity most recently added values in insertion order.
func (m *Manager) MarkTicketAsConsumed(ticket string) {
	if ticket == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.consumed.Contains(ticket) {
		m.consumed.Add(ticket, struct{}{})
	}
}

// IsConsumed reports whether ticket has been handed to the transport.
func (m *Manager) IsConsumed(ticket string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed.Contains(ticket)
}

// ConsumedCount returns the number of remembered consumed tickets.
func (m *Manager) ConsumedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed.Len()
}

// CurrentTicket returns the held ticket, if any.
func (m *Manager) CurrentTicket() (string, bool) {
	st := m.store.Current()
	return st.Ticket, st.HasTicket()
}

// ConsecutiveFailures returns the circuit breaker failure count.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// UpdateConnectionStatus moves the shared state to status. Forbidden transitions are logged and
// leave the state unchanged.
func (m *Manager) UpdateConnectionStatus(status models.Status, lastErr string) error {
	if _, err := m.store.Transition(status, lastErr); err != nil {
		m.logger.Warn("rejected connection status update", "to", status, "error", err)
		return err
	}
	return nil
}

func (m *Manager) observe(prev, next models.ConnectionState) {
	if prev.Status == next.Status {
		return
	}
	switch next.Status {
	case models.StatusError:
		m.CancelRenewal()
	case models.StatusConnected:
		if next.HasTicket() && !m.RenewalPending() {
			m.ScheduleTicketRenewal()
		}
	}
}

// Close cancels pending renewals and waits, and detaches from the store.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopRenewalLocked()
	m.mu.Unlock()

	m.cancel()
	m.unsubscribe()
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return shared.ErrClosed
	}
}
