// Package server provides HTTP routing, middleware, and a development backend for the realtime client.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Development Backend
//
// [Backend] emulates the two endpoints the client talks to:
//   - POST ticket path: issues single-use tickets to bearer-authenticated callers ([TicketHandler])
//   - GET stream path: a server-sent event stream opened with ?ticket= or ?token= ([StreamHandler])
//
// Events handed to [Backend.Publish] fan out to every open stream, and heartbeats are written on a
// fixed interval. A redeemed ticket cannot open a second stream.
//
// # Handler Interface
//
// Endpoints implement [Handler], which adds the [Route] list an endpoint serves to [http.Handler]. A router
// registers them with [Router.Handler]; [Guard] attaches middleware to one endpoint only, as the bearer check
// on the ticket endpoint does.
package server
