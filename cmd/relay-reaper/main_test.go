package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestSweepRemovesOnlyStaleRecords(t *testing.T) {
	root := t.TempDir()
	stateDir := filepath.Join(root, "state")
	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "stale1"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "fresh1"), 0o700))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(stateDir, "stale1"), old, old))

	require.NoError(t, sweep(root, 24*time.Hour, testLog()))

	_, err := os.Stat(filepath.Join(stateDir, "stale1"))
	assert.True(t, os.IsNotExist(err), "stale record should be removed")
	_, err = os.Stat(filepath.Join(stateDir, "fresh1"))
	assert.NoError(t, err, "fresh record should survive")
}

func TestSweepMissingStateDir(t *testing.T) {
	assert.Error(t, sweep(filepath.Join(t.TempDir(), "nope"), time.Hour, testLog()))
}
