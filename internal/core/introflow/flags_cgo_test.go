//go:build cgo

package introflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmkt/openmkt/internal/config"
	"github.com/openmkt/openmkt/internal/core/store"
)

func TestStoreFlagsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/flags.db"}

	open := func() *store.Store {
		s, err := store.Open(ctx, cfg)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		return s
	}

	s := open()
	flags := &StoreFlags{Store: s}
	sent, err := flags.IsSent(ctx, testBuyer.DID, testListing.URI)
	require.NoError(t, err)
	require.False(t, sent)
	require.NoError(t, flags.MarkSent(ctx, testBuyer.DID, testListing))
	require.NoError(t, s.Close())

	s = open()
	defer s.Close() // nolint:errcheck
	sent, err = (&StoreFlags{Store: s}).IsSent(ctx, testBuyer.DID, testListing.URI)
	require.NoError(t, err)
	require.True(t, sent)
}
