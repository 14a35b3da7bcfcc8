package noncestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreMarkAndSeen(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	seen, err := store.Seen(ctx, "0xABCD")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, store.MarkUsed(ctx, "0xABCD"))

	seen, err = store.Seen(ctx, "0xABCD")
	require.NoError(t, err)
	require.True(t, seen)

	// Case and prefix variants are the same nonce.
	seen, err = store.Seen(ctx, "abcd")
	require.NoError(t, err)
	require.True(t, seen)

	require.ErrorIs(t, store.MarkUsed(ctx, "0xabcd"), ErrNonceUsed)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.MarkUsed(ctx, "0x0011"))
	require.NoError(t, store.MarkUsed(ctx, "0x2233"))
	require.NoError(t, store.Close())

	// A reopened store must reject nonces used before the restart.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	seen, err := reopened.Seen(ctx, "0x0011")
	require.NoError(t, err)
	require.True(t, seen)

	require.ErrorIs(t, reopened.MarkUsed(ctx, "0x2233"), ErrNonceUsed)
	require.NoError(t, reopened.MarkUsed(ctx, "0x4455"))
}

func TestFileStoreConcurrentMarkUsedSingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.MarkUsed(ctx, "0xfeed")
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, ErrNonceUsed)
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent MarkUsed must win")
}

func TestFileStoreManyNonces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, store.MarkUsed(ctx, fmt.Sprintf("0x%064x", i)))
	}
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	for i := 0; i < 100; i++ {
		seen, err := reopened.Seen(ctx, fmt.Sprintf("0x%064x", i))
		require.NoError(t, err)
		require.True(t, seen)
	}
}
