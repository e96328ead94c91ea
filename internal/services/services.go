// package services defines the external collaborators of the realtime client
//
// Identity (bearer credential) and ticket issuance
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertthunder/sumstream/internal/models"
)

// IdentityProvider yields the current bearer credential for the signed-in user.
type IdentityProvider interface {
	// IdentityToken returns the bearer credential or an error when none is available.
	IdentityToken(ctx context.Context) (string, error)
}

// TicketIssuer exchanges a bearer credential for a single-use connection ticket.
type TicketIssuer interface {
	// IssueTicket requests a new ticket for purpose.
	// HTTP failures are reported as *[StatusError].
	IssueTicket(ctx context.Context, purpose string) (*models.Ticket, error)
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Transient reports whether the status is worth retrying (5xx or 429).
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// StatusCode extracts the HTTP status carried by err, or 0 when there is none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsTransient reports whether err should be retried: errors without a status code are transient.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return err != nil
}
