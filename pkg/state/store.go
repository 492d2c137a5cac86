package state

import (
	"context"
	"errors"
	"fmt"
)

// Store is the durable correlation store. Implementations must be safe for
// concurrent use across processes: the registering process, the web
// handlers and the polling mail server all touch the same records.
type Store interface {
	// Create registers an empty record. Exactly one of N concurrent
	// callers for the same token succeeds; the rest get ErrConflict.
	Create(ctx context.Context, token Token) error

	// GetField reads a single field. ErrNotFound when the record is
	// unknown, ErrFieldAbsent when the field has not been written.
	GetField(ctx context.Context, token Token, name string) (string, error)

	// SetField writes a field, last-writer-wins. Writing FieldOutcome is
	// routed through the terminal guard and behaves like Complete.
	SetField(ctx context.Context, token Token, name, value string) error

	// Complete records a terminal outcome together with its detail
	// fields. The outcome write is exactly-once: losers observe
	// ErrAlreadyTerminal and neither the outcome nor the winning detail
	// fields are disturbed.
	Complete(ctx context.Context, token Token, outcome Outcome, detail map[string]string) error

	// Terminal reports whether the record has reached a sink state.
	Terminal(ctx context.Context, token Token) (bool, error)
}

// CurrentOutcome reads the outcome field, mapping an unwritten field to
// OutcomePending. The absence of the record itself stays an error: callers
// must distinguish "not finished" from "never started".
func CurrentOutcome(ctx context.Context, s Store, token Token) (Outcome, error) {
	v, err := s.GetField(ctx, token, FieldOutcome)
	if errors.Is(err, ErrFieldAbsent) {
		return OutcomePending, nil
	}
	if err != nil {
		return "", err
	}
	return Outcome(v), nil
}

func checkTerminalArgs(token Token, outcome Outcome) error {
	if err := token.Validate(); err != nil {
		return err
	}
	if !outcome.IsTerminal() {
		return fmt.Errorf("outcome %q is not terminal", outcome)
	}
	return nil
}
