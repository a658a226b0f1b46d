// Package ledger defines the narrow ledger surface the payout pipeline
// depends on. Implementations live in sub packages; tests use an in-memory
// fake.
package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Blockhash is a recent blockhash and the last block height at which
// transactions referencing it are still accepted.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// SignatureInfo is one entry of an account's signature history.
type SignatureInfo struct {
	Signature solana.Signature
	Slot      uint64
	// BlockTime is nil when the ledger did not record a time for the entry
	BlockTime *time.Time
	// Failed is true when the transaction executed with an error
	Failed bool
}

// TransactionDetails is the subset of a fetched transaction the pipeline reads.
type TransactionDetails struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime *time.Time
	Failed    bool
	Logs      []string
}

// IClient is the ledger contract used by the submission engine, the event
// monitor and the upload workflow.
type IClient interface {
	// GetLatestBlockhash returns a fresh blockhash to sign transactions with.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SendAndConfirmTransaction submits a signed transaction and blocks until
	// it is confirmed or can no longer land. blockhash is the hash the
	// transaction was signed with.
	//
	// Failures are reported as *TransactionError when the ledger rejected the
	// transaction, ErrBlockhashExpired when it expired unconfirmed, or a
	// transport error otherwise.
	SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction, blockhash *Blockhash) (solana.Signature, error)

	// GetBalance returns the balance of account in lamports.
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// GetSignaturesForAddress returns signatures involving account that are
	// newer than until, newest first. A zero until returns the most recent page.
	GetSignaturesForAddress(ctx context.Context, account solana.PublicKey, until solana.Signature) ([]*SignatureInfo, error)

	// GetTransaction fetches a confirmed transaction. ErrTransactionNotFound is
	// returned when the ledger has no record of it.
	GetTransaction(ctx context.Context, signature solana.Signature) (*TransactionDetails, error)
}
