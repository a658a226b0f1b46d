package persistence

import "github.com/gagliardetto/solana-go"

// IPublicationStore journals commitments the uploader has seen land on the
// ledger. All implementations must be thread-safe.
//
// The journal lets a restarted uploader skip pools it already published and
// detect an artifact that tries to publish a different root for the same pool.
type IPublicationStore interface {
	// SavePublication records a confirmed publication, keyed by pool.
	// Overwrites any existing record for the pool.
	SavePublication(p *Publication) error

	// LoadPublication retrieves the publication recorded for pool.
	// Returns nil if none exists, error only on storage failure.
	LoadPublication(pool solana.PublicKey) (*Publication, error)

	// ListPublications returns every recorded publication sorted by
	// PublishedAt (ascending), then pool.
	// Returns empty slice if none exist, error only on storage failure.
	ListPublications() ([]*Publication, error)

	// DeletePublication removes the record for pool.
	// Idempotent - returns nil if none exists.
	DeletePublication(pool solana.PublicKey) error

	// Close cleanly shuts down the store. Further calls return errors.
	Close() error

	// HealthCheck verifies the store is operational.
	HealthCheck() error
}
