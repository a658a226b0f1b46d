package persistence

import (
	"errors"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

// ErrClosed is returned by every store operation after Close.
var ErrClosed = errors.New("persistence layer is closed")

// Publication is the journal entry for one pool's published commitment.
type Publication struct {
	// Pool is the pool account the root was stored in. Primary key.
	Pool solana.PublicKey `json:"pool"`

	// Root is the merkle root that was published
	Root types.Hash `json:"root"`

	// Authority is the upload authority that signed the publication
	Authority solana.PublicKey `json:"authority"`

	// Signature of the confirmed (or already applied) submission
	Signature solana.Signature `json:"signature"`

	// Outcome is how the submission left the pending set:
	// "confirmed" or "already_applied"
	Outcome string `json:"outcome"`

	// RunID identifies the workflow invocation that published it
	RunID string `json:"runId"`

	// NodeCount is the number of leaves committed to
	NodeCount uint64 `json:"nodeCount"`

	// PublishedAt is the Unix timestamp of confirmation
	PublishedAt int64 `json:"publishedAt"`
}

// SortPublications orders publications by PublishedAt, then pool.
func SortPublications(pubs []*Publication) {
	sort.Slice(pubs, func(i, j int) bool {
		if pubs[i].PublishedAt != pubs[j].PublishedAt {
			return pubs[i].PublishedAt < pubs[j].PublishedAt
		}
		return pubs[i].Pool.String() < pubs[j].Pool.String()
	})
}
