// Package stream owns the live event stream of one realtime session.
//
// [Manager] opens the [Transport] with a ticket or token credential, keeps the shared
// connection state current, and republishes parsed events to subscribers.
//
// # Retries
//
// A transport failure closes the connection and schedules a retry after the next entry of the
// backoff table (the reconnect delay for attempts 1 to 5) plus jitter. When the retry budget is
// spent the state becomes failed. Independently, a rolling window counts connection attempts;
// too many inside the window starts a cooldown during which the state is rate_limited and every
// attempt is refused. The cooldown ends on its own or through [Manager.ResetRateLimiting].
//
// # Liveness
//
// A watchdog polls the time since the last heartbeat event and forces a reconnect when it is
// exceeded. An attempt that does not open within the connection timeout is a transport failure.
//
// # Events
//
// processing, completed, error and backend_error events are decoded and published; a payload
// that is not a JSON object is logged and dropped. backend_error never triggers a reconnect.
// heartbeat only feeds the watchdog. connection_close is published and then ends the session
// without a retry.
//
// Every timer and transport callback carries the connection generation it was created for, so a
// callback that fires after a disconnect or a newer attempt does nothing.
package stream
