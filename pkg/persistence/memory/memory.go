package memory

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
)

// MemoryPersistence is an in-memory implementation of IPublicationStore.
// This implementation is intended for TESTING and dry runs.
//
// All data is lost when the process exits, so a restarted uploader relies on
// the ledger's already-applied response instead of the journal.
// Thread-safe using sync.RWMutex. Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// pool -> publication
	publications map[solana.PublicKey]*persistence.Publication

	closed bool
}

var _ persistence.IPublicationStore = (*MemoryPersistence)(nil)

// NewMemoryPersistence creates a new in-memory journal.
func NewMemoryPersistence(logger *zap.Logger) *MemoryPersistence {
	if logger != nil {
		logger.Sugar().Warnw("Using in-memory publication journal - ALL DATA WILL BE LOST ON RESTART",
			"hint", "set PERSISTENCE_TYPE=badger, pebble or redis for production")
	}
	return &MemoryPersistence{
		publications: make(map[solana.PublicKey]*persistence.Publication),
	}
}

func (m *MemoryPersistence) SavePublication(p *persistence.Publication) error {
	if p == nil {
		return fmt.Errorf("cannot save nil Publication")
	}
	if p.Pool.IsZero() {
		return fmt.Errorf("cannot save Publication without pool")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}
	m.publications[p.Pool] = persistence.ClonePublication(p)
	return nil
}

func (m *MemoryPersistence) LoadPublication(pool solana.PublicKey) (*persistence.Publication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}
	return persistence.ClonePublication(m.publications[pool]), nil
}

func (m *MemoryPersistence) ListPublications() ([]*persistence.Publication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	out := make([]*persistence.Publication, 0, len(m.publications))
	for _, p := range m.publications {
		out = append(out, persistence.ClonePublication(p))
	}
	persistence.SortPublications(out)
	return out, nil
}

func (m *MemoryPersistence) DeletePublication(pool solana.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}
	delete(m.publications, pool)
	return nil
}

// Close marks the store closed. Idempotent.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.publications = make(map[solana.PublicKey]*persistence.Publication)
	return nil
}

func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
