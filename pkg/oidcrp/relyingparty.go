package oidcrp

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/relay/pkg/state"
)

// Completion mirrors the OpenID 2.0 completer's report: outcome plus the
// verified subject on success, never raw provider internals.
type Completion struct {
	Outcome state.Outcome
	Subject string
}

// RelyingParty drives the authorization-code flow against the correlation
// store. Tokens ride in the OAuth2 state parameter, so the browser callback
// carries the same correlation handle as the legacy protocols.
type RelyingParty struct {
	store    state.Store
	verifier IdentityVerifier
	authURL  func(state.Token) string
	log      *logrus.Entry
}

// New returns a RelyingParty using the given provider for both the redirect
// URL and code exchange.
func New(store state.Store, provider *Provider, log *logrus.Entry) *RelyingParty {
	return newRelyingParty(store, provider, provider.AuthCodeURL, log)
}

func newRelyingParty(store state.Store, verifier IdentityVerifier, authURL func(state.Token) string, log *logrus.Entry) *RelyingParty {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RelyingParty{store: store, verifier: verifier, authURL: authURL, log: log}
}

// BeginRedirect resolves the registered record and returns the provider
// authorization URL, persisting it alongside the request fields.
func (rp *RelyingParty) BeginRedirect(ctx context.Context, rawToken string) (string, error) {
	token, err := state.ParseToken(rawToken)
	if err != nil {
		return "", err
	}

	if _, err := rp.store.GetField(ctx, token, state.FieldReturnTo); err != nil {
		if errors.Is(err, state.ErrFieldAbsent) {
			return "", fmt.Errorf("request field %s: %w", state.FieldReturnTo, state.ErrNotFound)
		}
		return "", err
	}

	redirect := rp.authURL(token)
	if err := rp.store.SetField(ctx, token, state.FieldRedirectURL, redirect); err != nil {
		return "", fmt.Errorf("failed to store redirect url: %w", err)
	}
	return redirect, nil
}

// Complete validates the raw token, exchanges the authorization code for a
// verified identity and writes the terminal outcome. Replays against an
// already-terminal record return state.ErrAlreadyTerminal untouched.
func (rp *RelyingParty) Complete(ctx context.Context, rawToken, code string) (*Completion, error) {
	// Charset check happens before any store access.
	token, err := state.ParseToken(rawToken)
	if err != nil {
		return nil, err
	}
	log := rp.log.WithField("token", token)

	if _, err := rp.store.GetField(ctx, token, state.FieldReturnTo); err != nil {
		if errors.Is(err, state.ErrFieldAbsent) {
			return nil, fmt.Errorf("request field %s: %w", state.FieldReturnTo, state.ErrNotFound)
		}
		return nil, err
	}

	terminal, err := rp.store.Terminal(ctx, token)
	if err != nil {
		return nil, err
	}
	if terminal {
		// A terminal record is never re-verified; the replayer learns
		// nothing beyond "too late".
		log.Warn("replayed oidc callback for terminal record")
		return nil, state.ErrAlreadyTerminal
	}

	identity, rawIDToken, err := rp.verifier.Exchange(ctx, code)

	// The raw ID token is retained for audit no matter how the exchange
	// ends; on pre-token failures it is empty and skipped.
	if rawIDToken != "" {
		if serr := rp.store.SetField(ctx, token, state.FieldRawPayload, rawIDToken); serr != nil {
			return nil, fmt.Errorf("failed to store raw id token: %w", serr)
		}
	}

	if err != nil {
		log.WithError(err).Warn("oidc code exchange failed")
		if cerr := rp.store.Complete(ctx, token, state.OutcomeFailure, map[string]string{
			state.FieldError: "oidc.error=exchange_failed",
		}); cerr != nil {
			return rp.reportTerminalWrite(log, cerr)
		}
		return &Completion{Outcome: state.OutcomeFailure}, nil
	}

	detail := map[string]string{state.FieldSubject: identity.Subject}
	if identity.Email != "" {
		detail[state.FieldEmail] = identity.Email
	}
	if identity.FullName != "" {
		detail[state.FieldFullName] = identity.FullName
	}
	if err := rp.store.Complete(ctx, token, state.OutcomeSuccess, detail); err != nil {
		return rp.reportTerminalWrite(log, err)
	}
	log.WithField("subject", identity.Subject).Info("oidc authentication succeeded")
	return &Completion{Outcome: state.OutcomeSuccess, Subject: identity.Subject}, nil
}

func (rp *RelyingParty) reportTerminalWrite(log *logrus.Entry, err error) (*Completion, error) {
	if errors.Is(err, state.ErrAlreadyTerminal) {
		log.Warn("lost terminal write race for oidc callback")
		return nil, state.ErrAlreadyTerminal
	}
	return nil, fmt.Errorf("failed to store outcome: %w", err)
}
