package saml

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/relay/pkg/state"
)

// ErrUnparseable means the inbound POST could not even be decoded far
// enough to extract a correlation token. No record is touched.
var ErrUnparseable = errors.New("could not parse assertion response")

// The pre-verification token extraction. Deliberately dumb: it only has to
// find a storage key, and the key is re-derived from the signed assertion
// afterwards.
var inResponseToPattern = regexp.MustCompile(`<(?:[A-Za-z0-9]+:)?Response[^>]*\sInResponseTo="([^"]*)"`)

// Result is the consumer's report to the HTTP layer.
type Result struct {
	Token   state.Token
	Outcome state.Outcome
	Subject string
}

// AssertionConsumer processes inbound SAML responses against the
// correlation store.
type AssertionConsumer struct {
	store    state.Store
	verifier Verifier
	log      *logrus.Entry
}

// NewAssertionConsumer returns a consumer backed by the given store and
// verifier.
func NewAssertionConsumer(store state.Store, verifier Verifier, log *logrus.Entry) *AssertionConsumer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AssertionConsumer{store: store, verifier: verifier, log: log}
}

// Consume runs the two-phase flow: first a tentative record under the
// attacker-influenced candidate token (storage only, no trust decisions),
// then verification and reconciliation against the token the verified
// document itself states.
func (c *AssertionConsumer) Consume(ctx context.Context, encodedResponse string) (*Result, error) {
	decoded, err := base64.StdEncoding.DecodeString(encodedResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	candidate := extractInResponseTo(decoded)
	if candidate == "" {
		c.log.Warn("saml response carries no InResponseTo")
		return nil, ErrUnparseable
	}
	token, err := state.ParseToken(candidate)
	if err != nil {
		return nil, err
	}
	log := c.log.WithField("token", token)

	// First sighting creates the record; a pre-registered or previously
	// seen token is fine at this point.
	if err := c.store.Create(ctx, token); err != nil && !errors.Is(err, state.ErrConflict) {
		return nil, err
	}

	// Raw payload is retained even for attempts that go on to fail
	// verification; rejected forgeries are exactly what the operator
	// wants to inspect afterwards.
	if err := c.store.SetField(ctx, token, state.FieldRawPayload, string(decoded)); err != nil {
		return nil, fmt.Errorf("failed to store raw payload: %w", err)
	}

	terminal, err := c.store.Terminal(ctx, token)
	if err != nil {
		return nil, err
	}
	if terminal {
		log.Warn("replayed saml response for terminal record")
		return nil, state.ErrAlreadyTerminal
	}

	verified, err := c.verifier.Verify(ctx, encodedResponse)
	if err != nil {
		log.WithError(err).Info("saml verification failed")
		return c.fail(ctx, log, token, "assertion verification failed")
	}

	if verified.InResponseTo != token.String() {
		// The candidate key and the verified document disagree about
		// which attempt this response answers. Trusting either side
		// silently would let a forged envelope steer a different
		// record, so the attempt is aborted.
		log.WithFields(logrus.Fields{
			"candidate": token,
			"verified":  verified.InResponseTo,
		}).Error("correlation token mismatch between envelope and verified response")
		return c.fail(ctx, log, token, "correlation token mismatch")
	}

	if err := c.store.Complete(ctx, token, state.OutcomeSuccess, map[string]string{
		state.FieldSubject: verified.Subject,
	}); err != nil {
		if errors.Is(err, state.ErrAlreadyTerminal) {
			log.Warn("replayed saml response lost terminal race")
			return nil, state.ErrAlreadyTerminal
		}
		return nil, fmt.Errorf("failed to store outcome: %w", err)
	}

	log.WithField("subject", verified.Subject).Info("saml authentication succeeded")
	return &Result{Token: token, Outcome: state.OutcomeSuccess, Subject: verified.Subject}, nil
}

func (c *AssertionConsumer) fail(ctx context.Context, log *logrus.Entry, token state.Token, detail string) (*Result, error) {
	err := c.store.Complete(ctx, token, state.OutcomeFailure, map[string]string{
		state.FieldError: detail,
	})
	if errors.Is(err, state.ErrAlreadyTerminal) {
		log.Warn("replayed saml response for terminal record")
		return nil, state.ErrAlreadyTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store outcome: %w", err)
	}
	return &Result{Token: token, Outcome: state.OutcomeFailure}, nil
}

func extractInResponseTo(decoded []byte) string {
	m := inResponseToPattern.FindSubmatch(decoded)
	if m == nil {
		return ""
	}
	return string(m[1])
}
