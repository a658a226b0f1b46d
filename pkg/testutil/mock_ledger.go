package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/trepa-protocol/resolution-prover/pkg/ledger"
)

// SendFunc decides the outcome of one submission. attempt counts submissions
// of the same instruction payload, starting at 1.
type SendFunc func(tx *solana.Transaction, attempt int) error

// MockLedger implements ledger.IClient in memory. It tracks in-flight
// submissions so tests can assert concurrency bounds, and it checks that
// every submitted transaction is signed for the blockhash it was sent with.
type MockLedger struct {
	mu sync.Mutex

	// SendFunc scripts submission outcomes; nil confirms everything
	SendFunc SendFunc
	// SendDelay is how long each submission stays in flight
	SendDelay time.Duration
	// BlockhashFailures makes the first N blockhash fetches fail
	BlockhashFailures int
	// BalanceError is returned by GetBalance when set
	BalanceError error
	// HistoryError is returned by GetSignaturesForAddress when set
	HistoryError error

	balances     map[solana.PublicKey]uint64
	history      map[solana.PublicKey][]*ledger.SignatureInfo
	transactions map[solana.Signature]*ledger.TransactionDetails
	txErrors     map[solana.Signature]error

	attempts       map[string]int
	confirmed      map[string]solana.Signature
	blockhashCalls int
	blockHeight    uint64

	inFlight          int64
	maxInFlight       int64
	totalSends        int64
	badSignatures     int64
	blockhashMismatch int64
}

var _ ledger.IClient = (*MockLedger)(nil)

func NewMockLedger() *MockLedger {
	return &MockLedger{
		balances:     make(map[solana.PublicKey]uint64),
		history:      make(map[solana.PublicKey][]*ledger.SignatureInfo),
		transactions: make(map[solana.Signature]*ledger.TransactionDetails),
		txErrors:     make(map[solana.Signature]error),
		attempts:     make(map[string]int),
		confirmed:    make(map[string]solana.Signature),
	}
}

// PayloadID identifies a transaction by its first instruction's data, which is
// stable across re-signing with different blockhashes.
func PayloadID(tx *solana.Transaction) string {
	if tx == nil || len(tx.Message.Instructions) == 0 {
		return ""
	}
	return hex.EncodeToString(tx.Message.Instructions[0].Data)
}

func (m *MockLedger) GetLatestBlockhash(ctx context.Context) (*ledger.Blockhash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blockhashCalls++
	if m.blockhashCalls <= m.BlockhashFailures {
		return nil, errors.New("connection refused")
	}

	m.blockHeight += 150
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(m.blockhashCalls))
	return &ledger.Blockhash{
		Hash:                 solana.Hash(sha256.Sum256(seed[:])),
		LastValidBlockHeight: m.blockHeight,
	}, nil
}

func (m *MockLedger) SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction, blockhash *ledger.Blockhash) (solana.Signature, error) {
	current := atomic.AddInt64(&m.inFlight, 1)
	defer atomic.AddInt64(&m.inFlight, -1)
	atomic.AddInt64(&m.totalSends, 1)
	for {
		prev := atomic.LoadInt64(&m.maxInFlight)
		if current <= prev || atomic.CompareAndSwapInt64(&m.maxInFlight, prev, current) {
			break
		}
	}

	var sig solana.Signature
	if len(tx.Signatures) > 0 {
		sig = tx.Signatures[0]
	}
	if err := tx.VerifySignatures(); err != nil {
		atomic.AddInt64(&m.badSignatures, 1)
	}
	if blockhash == nil || tx.Message.RecentBlockhash != blockhash.Hash {
		atomic.AddInt64(&m.blockhashMismatch, 1)
	}

	if m.SendDelay > 0 {
		select {
		case <-ctx.Done():
			return sig, ctx.Err()
		case <-time.After(m.SendDelay):
		}
	}

	id := PayloadID(tx)
	m.mu.Lock()
	m.attempts[id]++
	attempt := m.attempts[id]
	sendFunc := m.SendFunc
	m.mu.Unlock()

	var err error
	if sendFunc != nil {
		err = sendFunc(tx, attempt)
	}
	if err == nil {
		m.mu.Lock()
		m.confirmed[id] = sig
		m.mu.Unlock()
	}
	return sig, err
}

func (m *MockLedger) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceError != nil {
		return 0, m.BalanceError
	}
	return m.balances[account], nil
}

func (m *MockLedger) GetSignaturesForAddress(ctx context.Context, account solana.PublicKey, until solana.Signature) ([]*ledger.SignatureInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryError != nil {
		return nil, m.HistoryError
	}

	out := make([]*ledger.SignatureInfo, 0)
	for _, entry := range m.history[account] {
		if !until.IsZero() && entry.Signature == until {
			break
		}
		copied := *entry
		out = append(out, &copied)
	}
	return out, nil
}

func (m *MockLedger) GetTransaction(ctx context.Context, signature solana.Signature) (*ledger.TransactionDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.txErrors[signature]; ok {
		return nil, err
	}
	details, ok := m.transactions[signature]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	copied := *details
	return &copied, nil
}

// SetBalance sets the lamport balance of account.
func (m *MockLedger) SetBalance(account solana.PublicKey, lamports uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = lamports
}

// AppendHistory records a transaction touching account as the newest entry of
// its signature history. A nil blockTime stores an entry without a time.
func (m *MockLedger) AppendHistory(account solana.PublicKey, sig solana.Signature, blockTime *time.Time, failed bool, logs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := &ledger.SignatureInfo{Signature: sig, BlockTime: blockTime, Failed: failed}
	m.history[account] = append([]*ledger.SignatureInfo{info}, m.history[account]...)
	m.transactions[sig] = &ledger.TransactionDetails{
		Signature: sig,
		BlockTime: blockTime,
		Failed:    failed,
		Logs:      logs,
	}
}

// FailTransactionLookup makes GetTransaction for sig return err.
func (m *MockLedger) FailTransactionLookup(sig solana.Signature, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txErrors[sig] = err
}

// Attempts returns how often the payload identified by id was submitted.
func (m *MockLedger) Attempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

// Confirmed returns the payload ids that were confirmed.
func (m *MockLedger) Confirmed() map[string]solana.Signature {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]solana.Signature, len(m.confirmed))
	for k, v := range m.confirmed {
		out[k] = v
	}
	return out
}

// BlockhashCalls returns the number of blockhash fetches.
func (m *MockLedger) BlockhashCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockhashCalls
}

func (m *MockLedger) MaxInFlight() int64 {
	return atomic.LoadInt64(&m.maxInFlight)
}

func (m *MockLedger) TotalSends() int64 {
	return atomic.LoadInt64(&m.totalSends)
}

// BadSignatures counts submissions whose signatures did not verify.
func (m *MockLedger) BadSignatures() int64 {
	return atomic.LoadInt64(&m.badSignatures)
}

// BlockhashMismatches counts submissions signed for a different blockhash
// than the one passed alongside them.
func (m *MockLedger) BlockhashMismatches() int64 {
	return atomic.LoadInt64(&m.blockhashMismatch)
}
