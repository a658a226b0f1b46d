// Package verifier models the on-ledger verification rule that consumes a
// published commitment. The pipeline only needs it for offline checks; the
// stateful Ledger model exists so the claim lifecycle can be exercised
// without a cluster.
package verifier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/trepa-protocol/resolution-prover/pkg/merkle"
	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

var (
	ErrInvalidProof       = errors.New("invalid merkle proof")
	ErrAlreadyClaimed     = errors.New("rewards already claimed")
	ErrPoolNotFound       = errors.New("pool not found")
	ErrPoolNotResolved    = errors.New("pool not resolved")
	ErrPoolFinalized      = errors.New("pool already finalized")
	ErrPoolNotFinalized   = errors.New("pool not finalized")
	ErrUnauthorized       = errors.New("signer is not the merkle root upload authority")
	ErrAccountMismatch    = errors.New("account reference mismatch")
	ErrInsufficientEscrow = errors.New("pool escrow cannot cover transfer")
)

// CheckClaim applies the verification rule: hashing (recipient, amount) and
// replaying proof must yield root.
func CheckClaim(root types.Hash, recipient solana.PublicKey, amount uint64, proof []types.Hash) error {
	leaf := types.Leaf{Recipient: recipient, Amount: amount}
	if !merkle.VerifyLeaf(leaf, proof, root) {
		return ErrInvalidProof
	}
	return nil
}

// TransferFunc moves amount out of the pool escrow to recipient.
type TransferFunc func(pool, recipient solana.PublicKey, amount uint64) error

// PoolState is the portion of a pool account the verification rule reads and
// writes.
type PoolState struct {
	Authority   solana.PublicKey
	Root        types.Hash
	Escrow      uint64
	IsResolved  bool
	IsFinalized bool

	claimed map[types.Hash]struct{}
}

// Ledger is an in-memory model of the verification contract.
type Ledger struct {
	mu       sync.Mutex
	pools    map[solana.PublicKey]*PoolState
	transfer TransferFunc
}

// NewLedger creates an empty ledger model. transfer may be nil.
func NewLedger(transfer TransferFunc) *Ledger {
	return &Ledger{
		pools:    make(map[solana.PublicKey]*PoolState),
		transfer: transfer,
	}
}

// OpenPool registers a pool funded with escrow lamports.
func (l *Ledger) OpenPool(pool, authority solana.PublicKey, escrow uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pools[pool] = &PoolState{
		Authority: authority,
		Escrow:    escrow,
		claimed:   make(map[types.Hash]struct{}),
	}
}

// ResolvePool marks the outcome of a pool as known.
func (l *Ledger) ResolvePool(pool solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.pools[pool]
	if !ok {
		return ErrPoolNotFound
	}
	state.IsResolved = true
	return nil
}

// PublishCommitment stores root for a resolved pool and takes the protocol fee
// out of the escrow.
func (l *Ledger) PublishCommitment(pool, signer solana.PublicKey, root types.Hash, protocolFee uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.pools[pool]
	if !ok {
		return ErrPoolNotFound
	}
	if !state.Authority.Equals(signer) {
		return ErrUnauthorized
	}
	if !state.IsResolved {
		return ErrPoolNotResolved
	}
	if state.IsFinalized {
		return ErrPoolFinalized
	}
	if protocolFee > state.Escrow {
		return ErrInsufficientEscrow
	}

	state.Escrow -= protocolFee
	state.Root = root
	state.IsFinalized = true
	return nil
}

// Claim verifies the (recipient, amount) pair against the pool's committed
// root and transfers exactly amount. Each leaf can be consumed once.
func (l *Ledger) Claim(pool, recipient solana.PublicKey, amount uint64, proof []types.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimLocked(pool, recipient, amount, proof)
}

func (l *Ledger) claimLocked(pool, recipient solana.PublicKey, amount uint64, proof []types.Hash) error {
	state, ok := l.pools[pool]
	if !ok {
		return ErrPoolNotFound
	}
	if !state.IsFinalized {
		return ErrPoolNotFinalized
	}
	if err := CheckClaim(state.Root, recipient, amount, proof); err != nil {
		return err
	}

	leafHash := merkle.HashLeaf(types.Leaf{Recipient: recipient, Amount: amount})
	if _, done := state.claimed[leafHash]; done {
		return ErrAlreadyClaimed
	}
	if amount > state.Escrow {
		return ErrInsufficientEscrow
	}

	if l.transfer != nil {
		if err := l.transfer(pool, recipient, amount); err != nil {
			return fmt.Errorf("transfer to %s failed: %w", recipient, err)
		}
	}
	state.Escrow -= amount
	state.claimed[leafHash] = struct{}{}
	return nil
}

// ClaimRequest is one entry of a batched claim.
type ClaimRequest struct {
	Amount uint64
	Proof  []types.Hash
}

// ClaimBatch processes several claims whose recipients are given positionally
// in refs. The reference list must have one entry per request. Results are
// returned per request; a failed claim does not stop the batch.
func (l *Ledger) ClaimBatch(pool solana.PublicKey, refs *AccountRefs, requests []ClaimRequest) ([]error, error) {
	if err := refs.Expect(len(requests)); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	results := make([]error, len(requests))
	for i, req := range requests {
		recipient, err := refs.At(i)
		if err != nil {
			return nil, err
		}
		results[i] = l.claimLocked(pool, recipient, req.Amount, req.Proof)
	}
	return results, nil
}

// Pool returns a copy of the pool state.
func (l *Ledger) Pool(pool solana.PublicKey) (PoolState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.pools[pool]
	if !ok {
		return PoolState{}, false
	}
	out := *state
	out.claimed = nil
	return out, true
}
