// Package services implements the external collaborators the realtime client depends on.
//
// # Identity
//
// [IdentityProvider] yields the bearer credential sent to the ticket endpoint.
// [TokenSourceIdentity] adapts any [oauth2.TokenSource]: a static token from configuration, or the
// client credentials flow from [clientcredentials.Config]. Tokens are cached with
// [oauth2.ReuseTokenSource] and refreshed when they expire.
//
// # Ticket issuance
//
// [TicketClient] posts {"purpose": ...} to the ticket endpoint with an Authorization: Bearer header
// and parses {"ticket", "expiresAt", "expiresIn"}. When expiresAt is missing the expiry is derived
// from expiresIn.
//
// # Error Handling
//
// Non-2xx responses come back as *[StatusError]. Callers classify with [IsTransient]:
//   - 5xx and 429 are transient
//   - other 4xx are permanent
//   - errors with no status code (network failures) are transient
//
// Sentinels from the shared package:
//   - [shared.ErrNotAuthenticated] : no bearer credential available
//   - [shared.ErrAPIRequest] : the HTTP request failed before a response arrived
//   - [shared.ErrInvalidTicket] : the response body could not be parsed
package services
