// Package tickets manages the single-use connection tickets of one realtime session.
//
// # Lifecycle
//
// [Manager.RequestTicket] clears any held ticket, calls the issuer and stores the result in the
// shared [state.Store]. A ticket handed to the transport is marked consumed with
// [Manager.MarkTicketAsConsumed]; consumed values are remembered in a bounded FIFO set (10 entries) so
// they are never judged valid for a new connection, while the ticket in use keeps being renewed.
//
// # Protection
//
// Two independent guards sit in front of the issuer:
//   - a rate limiter spacing requests by interval * 2^min(failures, 3); callers wait rather than fail
//   - a circuit breaker opening after consecutive failures with a cool-down that doubles per extra
//     failure, capped by configuration
//
// Within one request, transient failures (5xx, 429, no status) are retried with exponential backoff
// from [github.com/cenkalti/backoff/v5]. A transient final failure keeps the previously held ticket; a
// permanent one clears it.
//
// # Renewal
//
// Renewal is armed whenever the state enters connected with a ticket and none is pending, and fires
// once the ticket reaches its refresh buffer (never sooner than the configured floor). Entering the
// error status cancels it.
package tickets
