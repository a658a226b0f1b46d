// Package pebble is a single-directory publication journal on Pebble, for
// uploaders that run as one-shot jobs and want no background goroutines.
package pebble

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
)

const (
	storeName = "publication-journal"

	schemaVersionKey     = 0x00
	publicationKeyPrefix = 0x01

	currentSchemaVersion = "v1"
)

type PebblePersistence struct {
	db     *pebble.DB
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

var _ persistence.IPublicationStore = (*PebblePersistence)(nil)

func NewPebblePersistence(dataDir string, logger *zap.Logger) (*PebblePersistence, error) {
	path := filepath.Join(dataDir, storeName)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db at %s: %w", path, err)
	}

	pp := &PebblePersistence{db: db, logger: logger}
	if err := pp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Pebble publication journal opened", "path", path)
	return pp, nil
}

func publicationKey(pool solana.PublicKey) []byte {
	return append([]byte{publicationKeyPrefix}, pool[:]...)
}

func (p *PebblePersistence) initSchema() error {
	value, closer, err := p.db.Get([]byte{schemaVersionKey})
	if errors.Is(err, pebble.ErrNotFound) {
		return p.db.Set([]byte{schemaVersionKey}, []byte(currentSchemaVersion), pebble.Sync)
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	defer closer.Close()

	if string(value) != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", value, currentSchemaVersion)
	}
	return nil
}

func (p *PebblePersistence) SavePublication(pub *persistence.Publication) error {
	data, err := persistence.MarshalPublication(pub)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return persistence.ErrClosed
	}

	if err := p.db.Set(publicationKey(pub.Pool), data, pebble.Sync); err != nil {
		return fmt.Errorf("setting publication for pool %s: %w", pub.Pool, err)
	}
	return nil
}

func (p *PebblePersistence) LoadPublication(pool solana.PublicKey) (*persistence.Publication, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, persistence.ErrClosed
	}

	value, closer, err := p.db.Get(publicationKey(pool))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting publication for pool %s: %w", pool, err)
	}
	defer closer.Close()

	return persistence.UnmarshalPublication(value)
}

func (p *PebblePersistence) ListPublications() ([]*persistence.Publication, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, persistence.ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{publicationKeyPrefix},
		UpperBound: []byte{publicationKeyPrefix + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("creating iterator: %w", err)
	}
	defer iter.Close()

	pubs := make([]*persistence.Publication, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("getting value from iter: %w", err)
		}

		pub, err := persistence.UnmarshalPublication(value)
		if err != nil {
			p.logger.Sugar().Warnw("Failed to unmarshal publication, skipping",
				"key", fmt.Sprintf("%x", iter.Key()), "error", err)
			continue
		}
		pubs = append(pubs, pub)
	}

	persistence.SortPublications(pubs)
	return pubs, nil
}

func (p *PebblePersistence) DeletePublication(pool solana.PublicKey) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return persistence.ErrClosed
	}

	if err := p.db.Delete(publicationKey(pool), pebble.Sync); err != nil {
		return fmt.Errorf("deleting publication for pool %s: %w", pool, err)
	}
	return nil
}

func (p *PebblePersistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("closing pebble db: %w", err)
	}
	return nil
}

func (p *PebblePersistence) HealthCheck() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return persistence.ErrClosed
	}

	_, closer, err := p.db.Get([]byte{schemaVersionKey})
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("schema version not found - database may be corrupted")
	}
	if err != nil {
		return err
	}
	return closer.Close()
}
