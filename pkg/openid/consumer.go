package openid

import (
	"context"
	"net/url"
)

// Status is the closed set of verification results a consumer can report.
type Status string

const (
	StatusSuccess Status = "success"
	StatusCancel  Status = "cancel"
	StatusFailure Status = "failure"
)

// Result is what the consumer library reports for a completed callback.
type Result struct {
	Status Status

	// ClaimedID is the verified identity URL. Set only on success.
	ClaimedID string

	// SReg carries the simple-registration attributes the provider chose
	// to supply (email, nickname, fullname). Each is optional.
	SReg map[string]string

	// Message holds the provider's failure detail, if any. Never shown
	// to end users; stored for audit.
	Message string
}

// Consumer is the external OpenID 2.0 consumer library. Implementations do
// the entire protocol: discovery, redirect construction, response
// verification.
type Consumer interface {
	// Begin runs discovery on the identity URL and returns the
	// provider-bound redirect URL, with the fixed simple-registration
	// attribute set (nickname, fullname, email) requested as an
	// extension.
	Begin(ctx context.Context, identityURL, realm, returnTo string) (string, error)

	// Complete verifies an inbound callback. returnTo is the stored
	// continuation target the response must match; query is the full
	// callback query string.
	Complete(ctx context.Context, returnTo string, query url.Values) (*Result, error)
}
