// Package state implements the correlation store shared between the mail
// server and the web-facing protocol handlers.
//
// # Overview
//
// A federated login attempt is identified by an opaque correlation token.
// The mail server registers a pending record under that token, points the
// user's browser at the identity provider, and then polls the store until a
// terminal outcome (success, cancel or failure) appears. The web handlers
// that complete the browser dance write that outcome. The store is the only
// thing the two sides share; there is no in-process coupling.
//
// # Records
//
// A record is a flat set of named string fields. Field presence encodes the
// progress of the state machine: request fields are written at registration,
// redirect_url when the provider redirect has been built, raw_payload when a
// callback arrives, and outcome (plus subject/attribute fields) when the
// attempt terminates. Field names are a stable contract polled by the mail
// server; see the Field* constants.
//
// # Guarantees
//
// Create is exactly-once per token: of N concurrent callers exactly one
// observes success and the rest observe ErrConflict. This is the replay
// detection primitive for SAML, where the token is attacker influenced.
//
// The outcome transition is exactly-once as well: once a terminal outcome is
// stored, further attempts fail with ErrAlreadyTerminal and the stored value
// is unchanged. Detail fields written alongside the winning outcome land
// atomically with it. All other field writes are last-writer-wins.
//
// Three backends are provided: filesystem (directory per token, atomic
// rename into place), SQLite and Redis. All of them persist across process
// restarts and lock per token, never globally.
package state
