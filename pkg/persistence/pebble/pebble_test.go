package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence/storetest"
)

func TestPebblePersistence(t *testing.T) {
	storetest.RunStoreSuite(t, func(t *testing.T) persistence.IPublicationStore {
		pp, err := NewPebblePersistence(t.TempDir(), zap.NewNop())
		require.NoError(t, err)
		return pp
	})
}

func TestPebblePersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	pp, err := NewPebblePersistence(dir, zap.NewNop())
	require.NoError(t, err)
	pub := storetest.NewPublication(1700000000)
	require.NoError(t, pp.SavePublication(pub))
	require.NoError(t, pp.Close())

	reopened, err := NewPebblePersistence(dir, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	all, err := reopened.ListPublications()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, pub, all[0])
}
