package badger

import (
	"testing"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/logger"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence/storetest"
)

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	return l
}

func TestBadgerPersistence(t *testing.T) {
	storetest.RunStoreSuite(t, func(t *testing.T) persistence.IPublicationStore {
		bp, err := NewBadgerPersistence(t.TempDir(), newTestLogger(t))
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(t)

	bp, err := NewBadgerPersistence(dir, l)
	require.NoError(t, err)

	pub := storetest.NewPublication(1700000000)
	require.NoError(t, bp.SavePublication(pub))
	require.NoError(t, bp.Close())

	reopened, err := NewBadgerPersistence(dir, l)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.LoadPublication(pub.Pool)
	require.NoError(t, err)
	assert.Equal(t, pub, loaded)
}

func TestBadgerPersistence_SchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(t)

	bp, err := NewBadgerPersistence(dir, l)
	require.NoError(t, err)
	require.NoError(t, bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	}))
	require.NoError(t, bp.Close())

	_, err = NewBadgerPersistence(dir, l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}
