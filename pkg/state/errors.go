package state

import "errors"

// Error taxonomy shared by the store backends and the protocol adapters.
// Every error is terminal for the request that hit it; nothing in this
// module retries.
var (
	// ErrConflict is returned by Create when a record already exists for
	// the token. Duplicate registration or a replay, depending on caller.
	ErrConflict = errors.New("record already exists")

	// ErrNotFound is returned when no record exists for the token.
	ErrNotFound = errors.New("record not found")

	// ErrFieldAbsent is returned by GetField when the record exists but
	// the named field has not been written yet.
	ErrFieldAbsent = errors.New("field not set")

	// ErrMalformedToken is returned for tokens containing characters
	// outside [A-Za-z0-9]. Raised before any store access.
	ErrMalformedToken = errors.New("malformed correlation token")

	// ErrAlreadyTerminal is returned when an outcome write races a record
	// whose outcome is already terminal. The stored outcome is unchanged.
	ErrAlreadyTerminal = errors.New("outcome already terminal")

	// ErrProtocol wraps failures signalled by the external protocol
	// libraries (discovery, redirect building, verification).
	ErrProtocol = errors.New("protocol library failure")
)
