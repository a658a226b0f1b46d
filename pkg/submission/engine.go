// Package submission delivers a set of unsigned transactions to the ledger,
// retrying until each is confirmed or the time budget runs out.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/trepa-protocol/resolution-prover/pkg/ledger"
	"github.com/trepa-protocol/resolution-prover/pkg/metrics"
	"github.com/trepa-protocol/resolution-prover/pkg/transactionSigner"
)

const (
	DefaultMaxConcurrency     = 100
	DefaultBatchSize          = 64
	DefaultMaxTotalDuration   = 600 * time.Second
	DefaultBlockhashStaleness = time.Second
	DefaultRetryDelay         = 100 * time.Millisecond
)

// ErrInvalidEngineConfig is returned for unusable engine settings.
var ErrInvalidEngineConfig = errors.New("invalid submission engine config")

type EngineConfig struct {
	// MaxConcurrency bounds submissions awaiting the ledger at once
	MaxConcurrency int
	// BatchSize is the number of pending transactions attempted per round
	BatchSize int
	// MaxTotalDuration bounds the whole run; no round starts after it elapses
	MaxTotalDuration time.Duration
	// BlockhashStaleness is the age after which the round blockhash is refetched
	BlockhashStaleness time.Duration
	// RetryDelay is the pause after a round that left retryable work
	RetryDelay time.Duration
	// AlreadyAppliedCodes are custom error codes of instruction 0 treated as success
	AlreadyAppliedCodes []uint32

	Now func() time.Time
}

// DefaultEngineConfig returns the production settings.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxConcurrency:      DefaultMaxConcurrency,
		BatchSize:           DefaultBatchSize,
		MaxTotalDuration:    DefaultMaxTotalDuration,
		BlockhashStaleness:  DefaultBlockhashStaleness,
		RetryDelay:          DefaultRetryDelay,
		AlreadyAppliedCodes: []uint32{0},
	}
}

func (c *EngineConfig) Validate() error {
	switch {
	case c.MaxConcurrency <= 0:
		return fmt.Errorf("%w: max concurrency must be positive", ErrInvalidEngineConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidEngineConfig)
	case c.MaxTotalDuration <= 0:
		return fmt.Errorf("%w: max total duration must be positive", ErrInvalidEngineConfig)
	case c.BlockhashStaleness < 0 || c.RetryDelay < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidEngineConfig)
	}
	return nil
}

// Confirmation records how a transaction left the pending set.
type Confirmation struct {
	Signature solana.Signature
	Outcome   Outcome
	Attempts  int
}

// Result is the outcome of a Run.
type Result struct {
	// Remaining holds the templates that were never confirmed, in input order
	Remaining []*solana.Transaction
	// Errors holds every failed attempt's error keyed by that attempt's signature
	Errors map[solana.Signature]error
	// Confirmed is keyed by MessageKey of the template
	Confirmed map[string]Confirmation
	Rounds    int
}

type pendingTx struct {
	key      string
	template *solana.Transaction
	order    int
	attempts int
}

type attemptResult struct {
	entry     *pendingTx
	signature solana.Signature
	err       error
	outcome   Outcome
}

type Engine struct {
	ledger  ledger.IClient
	signer  transactionSigner.ITransactionSigner
	config  *EngineConfig
	sem     *semaphore.Weighted
	metrics *metrics.UploaderMetrics
	logger  *zap.Logger
}

func NewEngine(
	client ledger.IClient,
	signer transactionSigner.ITransactionSigner,
	cfg *EngineConfig,
	m *metrics.UploaderMetrics,
	logger *zap.Logger,
) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if client == nil || signer == nil {
		return nil, fmt.Errorf("%w: ledger client and signer are required", ErrInvalidEngineConfig)
	}
	return &Engine{
		ledger:  client,
		signer:  signer,
		config:  cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		metrics: m,
		logger:  logger,
	}, nil
}

// MessageKey returns the canonical identity of a transaction: its serialized
// message with the recent blockhash zeroed. Re-signing against a new
// blockhash does not change it.
func MessageKey(tx *solana.Transaction) (string, error) {
	if tx == nil {
		return "", fmt.Errorf("transaction is nil")
	}
	msg := tx.Message
	msg.RecentBlockhash = solana.Hash{}
	data, err := msg.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize message: %w", err)
	}
	return string(data), nil
}

// Run submits every template until each is confirmed (or found already
// applied), the time budget is exhausted, or ctx is cancelled. Templates with
// identical messages are submitted once.
func (e *Engine) Run(ctx context.Context, templates []*solana.Transaction) (*Result, error) {
	pending := make(map[string]*pendingTx, len(templates))
	for i, tmpl := range templates {
		key, err := MessageKey(tmpl)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		if _, dup := pending[key]; dup {
			continue
		}
		pending[key] = &pendingTx{key: key, template: tmpl, order: i}
	}

	result := &Result{
		Errors:    make(map[solana.Signature]error),
		Confirmed: make(map[string]Confirmation),
	}

	start := e.config.Now()
	deadline := start.Add(e.config.MaxTotalDuration)

	var (
		blockhash   *ledger.Blockhash
		fetchedAt   time.Time
		needRefresh = true
	)

	e.logger.Sugar().Infow("Starting submission",
		"transactions", len(pending),
		"maxConcurrency", e.config.MaxConcurrency,
		"batchSize", e.config.BatchSize,
		"budget", e.config.MaxTotalDuration,
	)

	for len(pending) > 0 && e.config.Now().Before(deadline) && ctx.Err() == nil {
		e.metrics.SetPending(len(pending))

		if needRefresh || e.config.Now().Sub(fetchedAt) >= e.config.BlockhashStaleness {
			bh, err := e.ledger.GetLatestBlockhash(ctx)
			e.metrics.IncBlockhashFetch(err == nil)
			if err != nil {
				e.logger.Sugar().Warnw("Failed to fetch blockhash", "error", err)
				e.pause(ctx, deadline)
				continue
			}
			blockhash, fetchedAt, needRefresh = bh, e.config.Now(), false
		}

		batch := nextBatch(pending, e.config.BatchSize)
		attempts := e.submitRound(ctx, batch, blockhash)

		// The pending set is only mutated here, after every worker of the
		// round has finished.
		retryable := 0
		for _, a := range attempts {
			e.metrics.IncSubmission(a.outcome.String())
			if a.outcome.Done() {
				result.Confirmed[a.entry.key] = Confirmation{
					Signature: a.signature,
					Outcome:   a.outcome,
					Attempts:  a.entry.attempts,
				}
				delete(pending, a.entry.key)
				continue
			}

			result.Errors[a.signature] = a.err
			retryable++
			if a.outcome == OutcomeBlockhashExpired {
				needRefresh = true
			}
			e.logger.Sugar().Debugw("Submission attempt failed",
				"signature", a.signature.String(),
				"attempt", a.entry.attempts,
				"outcome", a.outcome.String(),
				"error", a.err,
			)
		}

		result.Rounds++
		e.metrics.IncRounds()
		e.logger.Sugar().Infow("Submission round complete",
			"round", result.Rounds,
			"attempted", len(batch),
			"failed", retryable,
			"pending", len(pending),
			"elapsed", e.config.Now().Sub(start),
		)

		if retryable > 0 && len(pending) > 0 {
			e.pause(ctx, deadline)
		}
	}
	e.metrics.SetPending(len(pending))

	result.Remaining = remainingInOrder(pending)
	if len(result.Remaining) > 0 {
		e.logger.Sugar().Warnw("Submission ended with unconfirmed transactions",
			"remaining", len(result.Remaining),
			"failedAttempts", len(result.Errors),
			"rounds", result.Rounds,
			"contextError", ctx.Err(),
		)
	}
	return result, nil
}

// submitRound signs and sends every entry of batch against blockhash. At most
// MaxConcurrency submissions are outstanding at any time, across rounds.
func (e *Engine) submitRound(ctx context.Context, batch []*pendingTx, blockhash *ledger.Blockhash) []attemptResult {
	results := make([]attemptResult, len(batch))
	var g errgroup.Group

	for i, entry := range batch {
		entry.attempts++
		if err := e.sem.Acquire(ctx, 1); err != nil {
			results[i] = attemptResult{entry: entry, err: err, outcome: OutcomeRetryable}
			continue
		}

		i, entry := i, entry
		g.Go(func() error {
			defer e.sem.Release(1)

			e.metrics.AddInFlight(1)
			defer e.metrics.AddInFlight(-1)

			results[i] = e.attempt(ctx, entry, blockhash)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// attempt signs a fresh copy of entry's template for blockhash and submits it.
func (e *Engine) attempt(ctx context.Context, entry *pendingTx, blockhash *ledger.Blockhash) attemptResult {
	tx := &solana.Transaction{Message: entry.template.Message}
	tx.Message.RecentBlockhash = blockhash.Hash

	if err := e.signer.SignTransaction(tx); err != nil {
		return attemptResult{entry: entry, err: err, outcome: OutcomeRetryable}
	}
	signature := tx.Signatures[0]

	sig, err := e.ledger.SendAndConfirmTransaction(ctx, tx, blockhash)
	if !sig.IsZero() {
		signature = sig
	}
	return attemptResult{
		entry:     entry,
		signature: signature,
		err:       err,
		outcome:   Classify(err, e.config.AlreadyAppliedCodes),
	}
}

// pause waits RetryDelay, or less if the budget or ctx ends first.
func (e *Engine) pause(ctx context.Context, deadline time.Time) {
	wait := e.config.RetryDelay
	if left := deadline.Sub(e.config.Now()); left < wait {
		wait = left
	}
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// nextBatch picks up to size entries, least attempted first, so every
// transaction is tried once before any is tried again.
func nextBatch(pending map[string]*pendingTx, size int) []*pendingTx {
	entries := make([]*pendingTx, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, p)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].attempts != entries[j].attempts {
			return entries[i].attempts < entries[j].attempts
		}
		return entries[i].order < entries[j].order
	})
	if len(entries) > size {
		entries = entries[:size]
	}
	return entries
}

func remainingInOrder(pending map[string]*pendingTx) []*solana.Transaction {
	entries := make([]*pendingTx, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, p)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	out := make([]*solana.Transaction, len(entries))
	for i, p := range entries {
		out[i] = p.template
	}
	return out
}
