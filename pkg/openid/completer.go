package openid

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/relay/pkg/state"
)

// Completion is the completer's report to the HTTP layer. Subject is set
// only on success; nothing in here ever carries raw verification internals.
type Completion struct {
	Outcome state.Outcome
	Subject string
}

// Completer finishes an OpenID attempt from the provider's browser
// callback.
type Completer struct {
	store    state.Store
	consumer Consumer
	log      *logrus.Entry
}

// NewCompleter returns a Completer backed by the given store and consumer.
func NewCompleter(store state.Store, consumer Consumer, log *logrus.Entry) *Completer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Completer{store: store, consumer: consumer, log: log}
}

// Complete validates the raw token, verifies the callback through the
// consumer library and writes the terminal outcome. Replays against an
// already-terminal record return state.ErrAlreadyTerminal and change
// nothing.
func (c *Completer) Complete(ctx context.Context, rawToken string, query url.Values) (*Completion, error) {
	// Charset check happens before any store access.
	token, err := state.ParseToken(rawToken)
	if err != nil {
		return nil, err
	}
	log := c.log.WithField("token", token)

	returnTo, err := c.store.GetField(ctx, token, state.FieldReturnTo)
	if errors.Is(err, state.ErrFieldAbsent) {
		return nil, fmt.Errorf("request field %s: %w", state.FieldReturnTo, state.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	// The raw callback is retained for audit no matter how verification
	// ends.
	if err := c.store.SetField(ctx, token, state.FieldRawPayload, query.Encode()); err != nil {
		return nil, fmt.Errorf("failed to store raw callback: %w", err)
	}

	result, err := c.consumer.Complete(ctx, returnTo, query)
	if err != nil {
		// Unexpected library error: downgrade to a recorded failure so
		// the poller still observes a definite result.
		log.WithError(err).Error("openid consumer failed unexpectedly")
		result = &Result{Status: StatusFailure, Message: err.Error()}
	}

	switch result.Status {
	case StatusSuccess:
		detail := map[string]string{state.FieldSubject: result.ClaimedID}
		for attr, field := range sregKeys {
			if v, ok := result.SReg[attr]; ok {
				detail[field] = v
			}
		}
		if err := c.store.Complete(ctx, token, state.OutcomeSuccess, detail); err != nil {
			return c.reportTerminalWrite(log, err)
		}
		log.WithField("subject", result.ClaimedID).Info("openid authentication succeeded")
		return &Completion{Outcome: state.OutcomeSuccess, Subject: result.ClaimedID}, nil

	case StatusCancel:
		if err := c.store.Complete(ctx, token, state.OutcomeCancel, map[string]string{
			state.FieldError: "openid.error=cancel",
		}); err != nil {
			return c.reportTerminalWrite(log, err)
		}
		log.Info("openid authentication cancelled")
		return &Completion{Outcome: state.OutcomeCancel}, nil

	default:
		if err := c.store.Complete(ctx, token, state.OutcomeFailure, map[string]string{
			state.FieldError: "openid.error=failure",
		}); err != nil {
			return c.reportTerminalWrite(log, err)
		}
		log.WithField("detail", result.Message).Info("openid authentication failed")
		return &Completion{Outcome: state.OutcomeFailure}, nil
	}
}

// reportTerminalWrite maps a losing terminal write to a logged replay
// rather than a crash. Anything else propagates.
func (c *Completer) reportTerminalWrite(log *logrus.Entry, err error) (*Completion, error) {
	if errors.Is(err, state.ErrAlreadyTerminal) {
		log.Warn("replayed openid callback for terminal record")
		return nil, state.ErrAlreadyTerminal
	}
	return nil, fmt.Errorf("failed to store outcome: %w", err)
}
