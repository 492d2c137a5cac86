package observability

import (
	"context"
	"errors"

	"github.com/platinummonkey/relay/pkg/state"
)

// instrumentedStore feeds the store counters on every operation.
type instrumentedStore struct {
	next    state.Store
	backend string
	metrics *Metrics
}

// InstrumentStore wraps a correlation store so every operation is counted
// and failures are classified by error type.
func InstrumentStore(next state.Store, backend string, metrics *Metrics) state.Store {
	return &instrumentedStore{next: next, backend: backend, metrics: metrics}
}

func (s *instrumentedStore) observe(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.StoreErrorsTotal.WithLabelValues(operation, s.backend, classifyStoreError(err)).Inc()
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(operation, s.backend, status).Inc()
}

func classifyStoreError(err error) string {
	switch {
	case errors.Is(err, state.ErrConflict):
		return "conflict"
	case errors.Is(err, state.ErrNotFound):
		return "not_found"
	case errors.Is(err, state.ErrFieldAbsent):
		return "field_absent"
	case errors.Is(err, state.ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, state.ErrAlreadyTerminal):
		return "already_terminal"
	case errors.Is(err, state.ErrProtocol):
		return "protocol"
	default:
		return "io"
	}
}

func (s *instrumentedStore) Create(ctx context.Context, token state.Token) error {
	err := s.next.Create(ctx, token)
	s.observe("create", err)
	return err
}

func (s *instrumentedStore) GetField(ctx context.Context, token state.Token, name string) (string, error) {
	value, err := s.next.GetField(ctx, token, name)
	s.observe("get_field", err)
	return value, err
}

func (s *instrumentedStore) SetField(ctx context.Context, token state.Token, name, value string) error {
	err := s.next.SetField(ctx, token, name, value)
	s.observe("set_field", err)
	return err
}

func (s *instrumentedStore) Complete(ctx context.Context, token state.Token, outcome state.Outcome, detail map[string]string) error {
	err := s.next.Complete(ctx, token, outcome, detail)
	s.observe("complete", err)
	return err
}

func (s *instrumentedStore) Terminal(ctx context.Context, token state.Token) (bool, error) {
	terminal, err := s.next.Terminal(ctx, token)
	s.observe("terminal", err)
	return terminal, err
}
