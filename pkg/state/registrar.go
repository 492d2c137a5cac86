package state

import (
	"context"
	"fmt"
)

// Registrar creates the pending record for an authentication attempt before
// any protocol work begins. Pure precondition step; it performs no protocol
// logic.
type Registrar struct {
	store Store
}

// NewRegistrar returns a registrar backed by the given store.
func NewRegistrar(store Store) *Registrar {
	return &Registrar{store: store}
}

// Register creates the record and writes the request fields. A second
// registration for the same token fails with ErrConflict; it never
// overwrites an existing record.
func (r *Registrar) Register(ctx context.Context, token Token, req RequestFields) error {
	if err := token.Validate(); err != nil {
		return err
	}
	if err := r.store.Create(ctx, token); err != nil {
		return err
	}
	fields := map[string]string{
		FieldIdentityURL: req.IdentityURL,
		FieldRealm:       req.Realm,
		FieldReturnTo:    req.ReturnTo,
	}
	for name, value := range fields {
		if value == "" {
			// SAML registrations carry no request fields at all.
			continue
		}
		if err := r.store.SetField(ctx, token, name, value); err != nil {
			return fmt.Errorf("failed to store request field %s: %w", name, err)
		}
	}
	return nil
}
