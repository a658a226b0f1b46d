// Package storetest holds the behaviour every IPublicationStore backend must
// share, run by each backend's own tests.
package storetest

import (
	"crypto/rand"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
)

// NewPublication returns a publication for a random pool.
func NewPublication(publishedAt int64) *persistence.Publication {
	var pool, authority solana.PublicKey
	var root [32]byte
	var sig solana.Signature
	_, _ = rand.Read(pool[:])
	_, _ = rand.Read(authority[:])
	_, _ = rand.Read(root[:])
	_, _ = rand.Read(sig[:])

	return &persistence.Publication{
		Pool:        pool,
		Root:        root,
		Authority:   authority,
		Signature:   sig,
		Outcome:     "confirmed",
		RunID:       "test-run",
		NodeCount:   7,
		PublishedAt: publishedAt,
	}
}

// RunStoreSuite exercises newStore's backend. newStore must return an empty
// store; the suite closes it.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) persistence.IPublicationStore) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		pub := NewPublication(1000)
		require.NoError(t, store.SavePublication(pub))

		loaded, err := store.LoadPublication(pub.Pool)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, pub, loaded)
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		loaded, err := store.LoadPublication(solana.SystemProgramID)
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveNil", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.Error(t, store.SavePublication(nil))
		require.Error(t, store.SavePublication(&persistence.Publication{}))
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		pub := NewPublication(1000)
		require.NoError(t, store.SavePublication(pub))

		updated := persistence.ClonePublication(pub)
		updated.Outcome = "already_applied"
		updated.PublishedAt = 2000
		require.NoError(t, store.SavePublication(updated))

		loaded, err := store.LoadPublication(pub.Pool)
		require.NoError(t, err)
		assert.Equal(t, "already_applied", loaded.Outcome)

		all, err := store.ListPublications()
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("ListSorted", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		empty, err := store.ListPublications()
		require.NoError(t, err)
		assert.Empty(t, empty)

		for _, ts := range []int64{300, 100, 200} {
			require.NoError(t, store.SavePublication(NewPublication(ts)))
		}

		all, err := store.ListPublications()
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, int64(100), all[0].PublishedAt)
		assert.Equal(t, int64(200), all[1].PublishedAt)
		assert.Equal(t, int64(300), all[2].PublishedAt)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		pub := NewPublication(1000)
		require.NoError(t, store.SavePublication(pub))
		require.NoError(t, store.DeletePublication(pub.Pool))
		require.NoError(t, store.DeletePublication(pub.Pool), "delete is idempotent")

		loaded, err := store.LoadPublication(pub.Pool)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		all, err := store.ListPublications()
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("Isolation", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		pub := NewPublication(1000)
		require.NoError(t, store.SavePublication(pub))
		pub.NodeCount = 99

		loaded, err := store.LoadPublication(pub.Pool)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), loaded.NodeCount)

		loaded.NodeCount = 55
		again, err := store.LoadPublication(pub.Pool)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), again.NodeCount)
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pub := NewPublication(int64(i))
				assert.NoError(t, store.SavePublication(pub))
				_, err := store.LoadPublication(pub.Pool)
				assert.NoError(t, err)
				_, err = store.ListPublications()
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		all, err := store.ListPublications()
		require.NoError(t, err)
		assert.Len(t, all, 10)
	})

	t.Run("HealthCheckAndClose", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.HealthCheck())

		require.NoError(t, store.Close())
		require.NoError(t, store.Close(), "close is idempotent")

		require.Error(t, store.HealthCheck())
		require.Error(t, store.SavePublication(NewPublication(1)))
		_, err := store.LoadPublication(solana.SystemProgramID)
		require.Error(t, err)
		_, err = store.ListPublications()
		require.Error(t, err)
		require.Error(t, store.DeletePublication(solana.SystemProgramID))
	})
}
