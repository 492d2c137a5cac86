package saml

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataWatcherReloadsOnChange(t *testing.T) {
	dir := writeTrustDir(t)
	writeIdPMetadata(t, dir, "idp-one", "https://one.example/metadata")

	trust, err := LoadTrust(dir, "https://relay.example/saml/acs", nil)
	require.NoError(t, err)

	watcher, err := NewMetadataWatcher(trust, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	writeIdPMetadata(t, dir, "idp-two", "https://two.example/metadata")

	require.Eventually(t, func() bool {
		return len(trust.Issuers()) == 2
	}, 5*time.Second, 50*time.Millisecond, "watcher must pick up the new provider")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
