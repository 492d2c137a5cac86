package saml

import "context"

// VerifiedAssertion is the distilled result of a successful verification.
// Everything in here comes from the signature-checked document.
type VerifiedAssertion struct {
	// InResponseTo is the authoritative correlation token, taken from the
	// subject confirmation inside the verified assertion rather than the
	// response root.
	InResponseTo string

	// Subject is the asserted NameID.
	Subject string

	// Attributes holds the assertion's attribute statements.
	Attributes map[string][]string
}

// Verifier is the external SAML library boundary: parse, check the
// signature, and validate the assertion against configured trust.
type Verifier interface {
	Verify(ctx context.Context, encodedResponse string) (*VerifiedAssertion, error)
}
