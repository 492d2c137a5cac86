package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrarRoundTrip(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	registrar := NewRegistrar(store)

	ctx := context.Background()
	req := RequestFields{
		IdentityURL: "https://example.org/u",
		Realm:       "https://mail.example.com/",
		ReturnTo:    "https://mail.example.com/cb/abc123",
	}
	require.NoError(t, registrar.Register(ctx, "abc123", req))

	identity, err := store.GetField(ctx, "abc123", FieldIdentityURL)
	require.NoError(t, err)
	assert.Equal(t, req.IdentityURL, identity)
	realm, err := store.GetField(ctx, "abc123", FieldRealm)
	require.NoError(t, err)
	assert.Equal(t, req.Realm, realm)
	returnTo, err := store.GetField(ctx, "abc123", FieldReturnTo)
	require.NoError(t, err)
	assert.Equal(t, req.ReturnTo, returnTo)

	outcome, err := CurrentOutcome(ctx, store, "abc123")
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
}

func TestRegistrarDuplicateConflict(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	registrar := NewRegistrar(store)

	ctx := context.Background()
	require.NoError(t, registrar.Register(ctx, "abc123", RequestFields{ReturnTo: "https://mail.example.com/cb/abc123"}))
	assert.ErrorIs(t, registrar.Register(ctx, "abc123", RequestFields{}), ErrConflict)
}

func TestRegistrarEmptyFieldsForSAML(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	registrar := NewRegistrar(store)

	ctx := context.Background()
	require.NoError(t, registrar.Register(ctx, "samlTok1", RequestFields{}))

	_, err = store.GetField(ctx, "samlTok1", FieldIdentityURL)
	assert.ErrorIs(t, err, ErrFieldAbsent)
}

func TestRegistrarMalformedToken(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	registrar := NewRegistrar(store)

	err = registrar.Register(context.Background(), "bad/token", RequestFields{})
	assert.ErrorIs(t, err, ErrMalformedToken)
}
