// Package models defines the data model shared by the realtime update client.
//
// The package contains three groups of types:
//
// 1. Connection state
//   - [ConnectionState] : the single mutable record kept per logical subscription
//   - [Status] : the connection state machine's states
//
// 2. Credentials
//   - [Ticket] : a short-lived, single-use streaming credential
//
// 3. Outbound signals
//   - [Event] : a parsed inbound stream event republished to subscribers
//   - [Notification] : an ephemeral, user-facing message with an optional [Action]
//
// Types here carry no behaviour beyond small predicates; ownership and mutation rules live in
// the state, tickets, stream and notify packages.
package models
