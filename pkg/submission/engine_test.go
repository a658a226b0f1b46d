package submission

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/ledger"
	"github.com/trepa-protocol/resolution-prover/pkg/metrics"
	"github.com/trepa-protocol/resolution-prover/pkg/testutil"
	"github.com/trepa-protocol/resolution-prover/pkg/transactionSigner"
)

func newTestSigner(t *testing.T) *transactionSigner.KeypairSigner {
	t.Helper()
	signer, err := transactionSigner.NewKeypairSigner(testutil.NewTestKeypair(t), zap.NewNop())
	require.NoError(t, err)
	return signer
}

func newTemplates(t *testing.T, payer solana.PublicKey, n int) []*solana.Transaction {
	t.Helper()
	out := make([]*solana.Transaction, n)
	for i := range out {
		out[i] = testutil.NewTestTransaction(t, payer, []byte{0xee, byte(i)})
	}
	return out
}

func payloadID(i int) string {
	return hex.EncodeToString([]byte{0xee, byte(i)})
}

func testEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxConcurrency:      4,
		BatchSize:           8,
		MaxTotalDuration:    5 * time.Second,
		BlockhashStaleness:  time.Hour,
		RetryDelay:          time.Millisecond,
		AlreadyAppliedCodes: []uint32{0},
	}
}

func newTestEngine(t *testing.T, client ledger.IClient, signer transactionSigner.ITransactionSigner, cfg *EngineConfig) *Engine {
	t.Helper()
	m := metrics.NewUploaderMetrics("test", prometheus.NewRegistry())
	engine, err := NewEngine(client, signer, cfg, m, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func TestEngineConfirmsEverything(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	mockLedger.SendDelay = 5 * time.Millisecond

	cfg := testEngineConfig()
	cfg.MaxConcurrency = 3
	cfg.BatchSize = 4
	engine := newTestEngine(t, mockLedger, signer, cfg)

	result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), 10))
	require.NoError(t, err)

	assert.Empty(t, result.Remaining)
	assert.Empty(t, result.Errors)
	assert.Len(t, result.Confirmed, 10)
	assert.Equal(t, 3, result.Rounds)
	assert.LessOrEqual(t, mockLedger.MaxInFlight(), int64(3))
	assert.Zero(t, mockLedger.BadSignatures())
	assert.Zero(t, mockLedger.BlockhashMismatches())
	assert.Equal(t, int64(10), mockLedger.TotalSends())

	for _, c := range result.Confirmed {
		assert.Equal(t, OutcomeConfirmed, c.Outcome)
		assert.Equal(t, 1, c.Attempts)
		assert.False(t, c.Signature.IsZero())
	}
}

func TestEngineRetriesTransientFailures(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	mockLedger.SendFunc = func(tx *solana.Transaction, attempt int) error {
		if attempt <= 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	cfg := testEngineConfig()
	// a fresh blockhash every round gives every attempt a distinct signature
	cfg.BlockhashStaleness = 0
	engine := newTestEngine(t, mockLedger, signer, cfg)

	const n = 6
	result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), n))
	require.NoError(t, err)

	assert.Empty(t, result.Remaining)
	assert.Len(t, result.Errors, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, 3, mockLedger.Attempts(payloadID(i)))
	}
	for _, c := range result.Confirmed {
		assert.Equal(t, 3, c.Attempts)
	}
	assert.Zero(t, mockLedger.BadSignatures())
	assert.Zero(t, mockLedger.BlockhashMismatches())
}

func TestEngineAlreadyAppliedIsSuccess(t *testing.T) {
	code := uint32(0)
	otherCode := uint32(6001)

	testCases := []struct {
		name      string
		err       error
		remaining int
	}{
		{"already processed", &ledger.TransactionError{Kind: ledger.KindAlreadyProcessed}, 0},
		{"custom zero in preflight", &ledger.TransactionError{Kind: ledger.KindInstructionError, CustomCode: &code, Preflight: true}, 0},
		{"custom zero after execution", &ledger.TransactionError{Kind: ledger.KindInstructionError, CustomCode: &code}, 0},
		{"other custom code keeps retrying", &ledger.TransactionError{Kind: ledger.KindInstructionError, CustomCode: &otherCode}, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			signer := newTestSigner(t)
			mockLedger := testutil.NewMockLedger()
			mockLedger.SendFunc = func(*solana.Transaction, int) error { return tc.err }

			cfg := testEngineConfig()
			cfg.MaxTotalDuration = 50 * time.Millisecond
			engine := newTestEngine(t, mockLedger, signer, cfg)

			result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), 2))
			require.NoError(t, err)
			assert.Len(t, result.Remaining, tc.remaining)
			if tc.remaining == 0 {
				for _, c := range result.Confirmed {
					assert.Equal(t, OutcomeAlreadyApplied, c.Outcome)
				}
				assert.Equal(t, int64(2), mockLedger.TotalSends())
			}
		})
	}
}

func TestEngineBudgetExhaustion(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	mockLedger.SendFunc = func(*solana.Transaction, int) error { return errors.New("node is behind") }

	cfg := testEngineConfig()
	cfg.MaxTotalDuration = 50 * time.Millisecond
	cfg.RetryDelay = 5 * time.Millisecond
	engine := newTestEngine(t, mockLedger, signer, cfg)

	templates := newTemplates(t, signer.PublicKey(), 5)
	start := time.Now()
	result, err := engine.Run(context.Background(), templates)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.GreaterOrEqual(t, result.Rounds, 1)
	require.Len(t, result.Remaining, len(templates))
	for i, tx := range result.Remaining {
		assert.Same(t, templates[i], tx, "remaining keeps input order")
	}
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, result.Confirmed)
}

func TestEngineRefreshesExpiredBlockhash(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()

	seen := make(chan solana.Hash, 8)
	mockLedger.SendFunc = func(tx *solana.Transaction, attempt int) error {
		seen <- tx.Message.RecentBlockhash
		if attempt == 1 {
			return ledger.ErrBlockhashExpired
		}
		return nil
	}

	engine := newTestEngine(t, mockLedger, signer, testEngineConfig())
	result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), 1))
	require.NoError(t, err)
	require.Empty(t, result.Remaining)

	assert.Equal(t, 2, mockLedger.BlockhashCalls())
	close(seen)
	first, second := <-seen, <-seen
	assert.NotEqual(t, first, second, "retry must be signed against the new blockhash")
	assert.Zero(t, mockLedger.BlockhashMismatches())
}

func TestEngineBlockhashNotFoundIsExpiry(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	mockLedger.SendFunc = func(tx *solana.Transaction, attempt int) error {
		if attempt == 1 {
			return &ledger.TransactionError{Kind: ledger.KindBlockhashNotFound, Preflight: true}
		}
		return nil
	}

	engine := newTestEngine(t, mockLedger, signer, testEngineConfig())
	result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), 3))
	require.NoError(t, err)
	require.Empty(t, result.Remaining)
	assert.Equal(t, 2, mockLedger.BlockhashCalls())
}

func TestEngineSurvivesBlockhashFetchFailures(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	mockLedger.BlockhashFailures = 2

	engine := newTestEngine(t, mockLedger, signer, testEngineConfig())
	result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), 3))
	require.NoError(t, err)
	require.Empty(t, result.Remaining)
	assert.Equal(t, 3, mockLedger.BlockhashCalls())
}

func TestEngineConcurrencyBound(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	mockLedger.SendDelay = 20 * time.Millisecond

	cfg := testEngineConfig()
	cfg.MaxConcurrency = 4
	cfg.BatchSize = 20
	engine := newTestEngine(t, mockLedger, signer, cfg)

	result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), 20))
	require.NoError(t, err)
	require.Empty(t, result.Remaining)
	assert.LessOrEqual(t, mockLedger.MaxInFlight(), int64(4))
	assert.Greater(t, mockLedger.MaxInFlight(), int64(1))
	assert.Equal(t, 1, result.Rounds)
}

func TestEngineAttemptsEveryTransactionBeforeRetrying(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	mockLedger.SendFunc = func(tx *solana.Transaction, attempt int) error {
		if testutil.PayloadID(tx) == payloadID(0) {
			return errors.New("rpc timeout")
		}
		return nil
	}

	cfg := testEngineConfig()
	cfg.BatchSize = 2
	cfg.MaxTotalDuration = 100 * time.Millisecond
	engine := newTestEngine(t, mockLedger, signer, cfg)

	result, err := engine.Run(context.Background(), newTemplates(t, signer.PublicKey(), 5))
	require.NoError(t, err)

	require.Len(t, result.Remaining, 1)
	for i := 1; i < 5; i++ {
		assert.Equal(t, 1, mockLedger.Attempts(payloadID(i)), "transaction %d", i)
	}
	assert.Greater(t, mockLedger.Attempts(payloadID(0)), 1)
}

func TestEngineDeduplicatesIdenticalTemplates(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	engine := newTestEngine(t, mockLedger, signer, testEngineConfig())

	tmpl := testutil.NewTestTransaction(t, signer.PublicKey(), []byte("same"))
	dup := testutil.NewTestTransaction(t, signer.PublicKey(), []byte("same"))

	result, err := engine.Run(context.Background(), []*solana.Transaction{tmpl, dup})
	require.NoError(t, err)
	require.Empty(t, result.Remaining)
	assert.Len(t, result.Confirmed, 1)
	assert.Equal(t, int64(1), mockLedger.TotalSends())
}

func TestEngineCancelledContext(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	engine := newTestEngine(t, mockLedger, signer, testEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	templates := newTemplates(t, signer.PublicKey(), 3)
	result, err := engine.Run(ctx, templates)
	require.NoError(t, err)
	assert.Len(t, result.Remaining, 3)
	assert.Zero(t, mockLedger.TotalSends())
}

func TestEngineEmptyInput(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()
	engine := newTestEngine(t, mockLedger, signer, testEngineConfig())

	result, err := engine.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Remaining)
	assert.Zero(t, result.Rounds)
	assert.Zero(t, mockLedger.BlockhashCalls())
}

func TestNewEngineValidation(t *testing.T) {
	signer := newTestSigner(t)
	mockLedger := testutil.NewMockLedger()

	for name, mutate := range map[string]func(*EngineConfig){
		"zero concurrency": func(c *EngineConfig) { c.MaxConcurrency = 0 },
		"zero batch":       func(c *EngineConfig) { c.BatchSize = 0 },
		"zero budget":      func(c *EngineConfig) { c.MaxTotalDuration = 0 },
		"negative delay":   func(c *EngineConfig) { c.RetryDelay = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testEngineConfig()
			mutate(cfg)
			_, err := NewEngine(mockLedger, signer, cfg, nil, zap.NewNop())
			require.ErrorIs(t, err, ErrInvalidEngineConfig)
		})
	}

	_, err := NewEngine(nil, signer, testEngineConfig(), nil, zap.NewNop())
	require.Error(t, err)
}

func TestMessageKeyIgnoresBlockhash(t *testing.T) {
	signer := newTestSigner(t)
	tx := testutil.NewTestTransaction(t, signer.PublicKey(), []byte("payload"))

	key1, err := MessageKey(tx)
	require.NoError(t, err)

	tx.Message.RecentBlockhash = solana.Hash{7}
	key2, err := MessageKey(tx)
	require.NoError(t, err)
	require.Equal(t, key1, key2)
	require.Equal(t, solana.Hash{7}, tx.Message.RecentBlockhash, "MessageKey must not modify the transaction")

	other := testutil.NewTestTransaction(t, signer.PublicKey(), []byte("other"))
	key3, err := MessageKey(other)
	require.NoError(t, err)
	require.NotEqual(t, key1, key3)

	_, err = MessageKey(nil)
	require.Error(t, err)
}
