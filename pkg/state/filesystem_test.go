package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStoreConformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		store, err := NewFileSystemStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestFileSystemStoreLayout(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileSystemStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "tok1"))
	require.NoError(t, store.SetField(ctx, "tok1", FieldReturnTo, "https://mail.example.com/cb/tok1"))

	// One directory per token, one file per field.
	b, err := os.ReadFile(filepath.Join(root, "state", "tok1", FieldReturnTo))
	require.NoError(t, err)
	assert.Equal(t, "https://mail.example.com/cb/tok1", string(b))

	require.NoError(t, store.Complete(ctx, "tok1", OutcomeSuccess, map[string]string{FieldSubject: "u1"}))
	b, err = os.ReadFile(filepath.Join(root, "state", "tok1", terminalDir, FieldOutcome))
	require.NoError(t, err)
	assert.Equal(t, "success", string(b))
}

func TestFileSystemStoreMalformedTokenTouchesNothing(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileSystemStore(root)
	require.NoError(t, err)

	err = store.Create(context.Background(), "../escape")
	assert.ErrorIs(t, err, ErrMalformedToken)

	entries, err := os.ReadDir(filepath.Join(root, "state"))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected token must leave no trace in the store")
	_, err = os.Stat(filepath.Join(root, "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSystemStoreRejectsHostileFieldNames(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "tok1"))
	assert.Error(t, store.SetField(ctx, "tok1", "../sibling", "x"))
	_, err = store.GetField(ctx, "tok1", "nested/field")
	assert.Error(t, err)
}

func TestFileSystemStoreNoPartialTerminalState(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileSystemStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "tok1"))
	require.NoError(t, store.Complete(ctx, "tok1", OutcomeFailure, map[string]string{FieldError: "bad signature"}))

	// The losing staging directory must not linger after a replay.
	assert.ErrorIs(t, store.Complete(ctx, "tok1", OutcomeSuccess, map[string]string{FieldSubject: "forged"}), ErrAlreadyTerminal)
	entries, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.GetField(ctx, "tok1", FieldSubject)
	assert.ErrorIs(t, err, ErrFieldAbsent)
}
