package state

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// Tokens double as storage keys and path segments, so the accepted charset
// is strictly alphanumeric. Anything else is rejected before it can reach a
// backend.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,128}$`)

// Token is an opaque identifier correlating a registered pending request
// with its eventual callback outcome. For OpenID the registrar chooses it;
// for SAML it is extracted from provider-supplied response content.
type Token string

// ParseToken validates untrusted input as a correlation token. It returns
// ErrMalformedToken without side effects when the input fails the charset
// or length check.
func ParseToken(s string) (Token, error) {
	if !tokenPattern.MatchString(s) {
		return "", ErrMalformedToken
	}
	return Token(s), nil
}

func (t Token) String() string { return string(t) }

// Validate re-checks an already-typed token. Backends call this on entry so
// a Token constructed by conversion rather than ParseToken still cannot
// escape the safe charset.
func (t Token) Validate() error {
	if !tokenPattern.MatchString(string(t)) {
		return ErrMalformedToken
	}
	return nil
}

// NewToken returns a fresh random token. 32 bytes of entropy, hex encoded,
// which keeps it comfortably above the minimum nonce space the mechanisms
// require and inside the alphanumeric charset.
func NewToken() Token {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return Token(hex.EncodeToString(b[:]))
}
