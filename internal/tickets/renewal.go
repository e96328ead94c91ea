package tickets

import (
	"errors"
	"time"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
)

// ScheduleTicketRenewal arms the renewal timer for the held ticket, replacing any pending one.
//
// Nothing is armed without a ticket or while the state is in error. An already expired ticket is
// cleared instead. A consumed ticket is still renewed: it may be the credential of the live
// connection.
func (m *Manager) ScheduleTicketRenewal() {
	m.mu.Lock()
	m.stopRenewalLocked()
	if m.closed {
		m.mu.Unlock()
		return
	}

	st := m.store.Current()
	switch {
	case !st.HasTicket():
		m.mu.Unlock()
		m.logger.Debug("renewal skipped, no ticket")
		return
	case st.Status == models.StatusError:
		m.mu.Unlock()
		m.logger.Debug("renewal skipped, connection in error")
		return
	}

	ttl := st.TicketExpiresAt.Sub(m.now())
	if ttl <= 0 {
		m.mu.Unlock()
		m.logger.Warn("ticket expired before renewal, clearing")
		m.clearTicket(st.Ticket)
		return
	}

	delay := m.renewalDelay(ttl)
	m.renewalGen++
	gen := m.renewalGen
	m.renewal = time.AfterFunc(delay, func() { m.renew(gen) })
	m.mu.Unlock()

	m.logger.Debug("ticket renewal scheduled", "in", delay, "expires_in", ttl.Round(time.Second))
}

// renewalDelay fires at the start of the refresh buffer, after 1s when already inside it, and
// never sooner than the minimum renewal delay.
func (m *Manager) renewalDelay(ttl time.Duration) time.Duration {
	untilBuffer := ttl - m.cfg.TicketRefreshBuffer()
	if untilBuffer <= 0 {
		untilBuffer = time.Second
	}
	return max(m.cfg.MinRenewalDelay(), untilBuffer)
}

// RenewalPending reports whether a renewal timer is armed.
func (m *Manager) RenewalPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renewal != nil
}

// CancelRenewal stops any pending renewal.
func (m *Manager) CancelRenewal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRenewalLocked()
}

func (m *Manager) stopRenewalLocked() {
	if m.renewal != nil {
		m.renewal.Stop()
		m.renewal = nil
	}
	m.renewalGen++
}

func (m *Manager) renew(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.renewalGen {
		m.mu.Unlock()
		return
	}
	m.renewal = nil
	purpose := m.purpose
	m.mu.Unlock()

	st := m.store.Current()
	if !st.HasTicket() {
		m.logger.Debug("renewal fired without a ticket")
		return
	}
	if !st.TicketExpiresAt.After(m.now()) {
		m.logger.Warn("ticket expired before renewal fired, clearing")
		m.clearTicket(st.Ticket)
		return
	}

	m.logger.Info("renewing ticket", "expires_in", st.TicketExpiresAt.Sub(m.now()).Round(time.Second))
	if _, err := m.RequestTicket(m.ctx, purpose); err != nil {
		m.logger.Warn("ticket renewal failed", "transient", errors.Is(err, shared.ErrTransientTicket), "error", err)
		return
	}
	m.ScheduleTicketRenewal()
}

func (m *Manager) clearTicket(value string) {
	m.store.Update(func(st *models.ConnectionState) {
		if st.Ticket == value {
			st.ClearTicket()
		}
	})
}
