package openid

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/relay/pkg/state"
)

// Initiator builds the provider redirect for a registered attempt and
// persists it so the mail server can hand it to the user's browser.
type Initiator struct {
	store    state.Store
	consumer Consumer
	log      *logrus.Entry
}

// NewInitiator returns an Initiator backed by the given store and consumer.
func NewInitiator(store state.Store, consumer Consumer, log *logrus.Entry) *Initiator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Initiator{store: store, consumer: consumer, log: log}
}

// BuildRedirect resolves the request fields of the record, delegates to the
// consumer library and stores the resulting redirect URL. Library failures
// surface wrapped in state.ErrProtocol and are never retried; the caller
// must restart the flow under a fresh token.
func (i *Initiator) BuildRedirect(ctx context.Context, token state.Token) (string, error) {
	identityURL, err := i.requestField(ctx, token, state.FieldIdentityURL)
	if err != nil {
		return "", err
	}
	realm, err := i.requestField(ctx, token, state.FieldRealm)
	if err != nil {
		return "", err
	}
	returnTo, err := i.requestField(ctx, token, state.FieldReturnTo)
	if err != nil {
		return "", err
	}

	redirect, err := i.consumer.Begin(ctx, identityURL, realm, returnTo)
	if err != nil {
		i.log.WithError(err).WithField("token", token).Warn("openid redirect construction failed")
		return "", err
	}

	if err := i.store.SetField(ctx, token, state.FieldRedirectURL, redirect); err != nil {
		return "", fmt.Errorf("failed to store redirect target: %w", err)
	}
	i.log.WithFields(logrus.Fields{"token": token, "identity_url": identityURL}).Info("openid redirect built")
	return redirect, nil
}

// requestField reads a registration-time field. A missing field means the
// attempt was never (fully) registered, which the contract reports as
// NotFound.
func (i *Initiator) requestField(ctx context.Context, token state.Token, name string) (string, error) {
	v, err := i.store.GetField(ctx, token, name)
	if errors.Is(err, state.ErrFieldAbsent) {
		return "", fmt.Errorf("request field %s: %w", name, state.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
