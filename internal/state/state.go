// Package state owns the [models.ConnectionState] of one logical subscription.
//
// All mutation goes through [Store.Update], which applies a partial update atomically,
// rejects forbidden status transitions, and publishes the (previous, next) pair to observers
// in commit order.
package state

import (
	"fmt"
	"sync"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
)

// Observer receives every committed change.
type Observer func(prev, next models.ConnectionState)

type change struct {
	prev, next models.ConnectionState
}

type subscriber struct {
	id int
	fn Observer
}

// Store holds one [models.ConnectionState].
type Store struct {
	mu          sync.Mutex
	current     models.ConnectionState
	subscribers []subscriber
	nextID      int

	queue       []change
	dispatching bool
}

// NewStore creates a store in the disconnected state.
func NewStore() *Store {
	return &Store{current: models.ConnectionState{Status: models.StatusDisconnected}}
}

// Current returns a snapshot of the state.
func (s *Store) Current() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn for future changes and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Update applies fn to a copy of the state and commits it if the result is valid.
//
// A rejected update leaves the state untouched and returns an error wrapping
// [shared.ErrInvalidTransition]. Updates issued by observers are queued and delivered after the
// current change.
func (s *Store) Update(fn func(*models.ConnectionState)) (models.ConnectionState, error) {
	s.mu.Lock()
	prev := s.current
	next := prev
	fn(&next)

	if err := validate(prev, next); err != nil {
		s.mu.Unlock()
		return prev, err
	}

	s.current = next
	if prev == next {
		s.mu.Unlock()
		return next, nil
	}

	s.queue = append(s.queue, change{prev: prev, next: next})
	if s.dispatching {
		s.mu.Unlock()
		return next, nil
	}
	s.dispatching = true
	s.mu.Unlock()

	s.dispatch()
	return next, nil
}

// Transition moves to status and records lastErr. Entering connected clears the last error.
func (s *Store) Transition(status models.Status, lastErr string) (models.ConnectionState, error) {
	return s.Update(func(st *models.ConnectionState) {
		st.Status = status
		switch {
		case lastErr != "":
			st.LastError = lastErr
		case status == models.StatusConnected || status == models.StatusDisconnected:
			st.LastError = ""
		}
	})
}

// Reset returns the state to a fresh disconnected record.
func (s *Store) Reset() {
	_, _ = s.Update(func(st *models.ConnectionState) {
		*st = models.ConnectionState{Status: models.StatusDisconnected}
	})
}

func (s *Store) dispatch() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		subs := make([]subscriber, len(s.subscribers))
		copy(subs, s.subscribers)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(c.prev, c.next)
		}
	}
}

// CanTransition reports whether moving from one status to another is allowed.
//
// Reconnecting implies an earlier connection attempt, so it cannot follow disconnected or
// requesting_ticket.
func CanTransition(from, to models.Status) bool {
	if to != models.StatusReconnecting {
		return true
	}
	return from != models.StatusDisconnected && from != models.StatusRequestingTicket
}

func validate(prev, next models.ConnectionState) error {
	if prev.Status != next.Status && !CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, prev.Status, next.Status)
	}
	if (next.Ticket == "") != next.TicketExpiresAt.IsZero() {
		return fmt.Errorf("%w: ticket and expiry must be set together", shared.ErrInvalidTransition)
	}
	if next.ReconnectAttempts < 0 {
		return fmt.Errorf("%w: negative reconnect attempts", shared.ErrInvalidTransition)
	}
	return nil
}
