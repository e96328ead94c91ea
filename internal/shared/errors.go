package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Identity errors
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrNotAuthenticated   = fmt.Errorf("not authenticated")
	ErrNoCredential       = fmt.Errorf("no connection credential held")

	// Ticket errors
	ErrTicketAuthDisabled = fmt.Errorf("ticket authentication is disabled")
	ErrCircuitOpen        = fmt.Errorf("ticket circuit breaker is open")
	ErrTransientTicket    = fmt.Errorf("transient ticket request failure")
	ErrPermanentTicket    = fmt.Errorf("permanent ticket request failure")
	ErrInvalidTicket      = fmt.Errorf("invalid ticket response")

	// Connection errors
	ErrRateLimited       = fmt.Errorf("rate limited")
	ErrTransport         = fmt.Errorf("transport error")
	ErrHeartbeatTimeout  = fmt.Errorf("heartbeat timeout")
	ErrMalformedPayload  = fmt.Errorf("malformed event payload")
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	ErrClosed            = fmt.Errorf("client closed")

	// API and input errors
	ErrAPIRequest      = fmt.Errorf("API request failed")
	ErrTimeout         = fmt.Errorf("operation timed out")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
