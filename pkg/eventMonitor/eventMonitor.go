// Package eventMonitor watches an account's signature history for the
// transaction that signals a pool has been resolved.
package eventMonitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/ledger"
	"github.com/trepa-protocol/resolution-prover/pkg/metrics"
)

const (
	DefaultMarker       = "Instruction: ResolvePool"
	DefaultPollInterval = 10 * time.Second
)

// Cursor is the monitor's position in the history. Entries with a block time
// at or before Watermark are never processed again.
type Cursor struct {
	LastSignature solana.Signature
	Watermark     time.Time
}

// Trigger is a history entry whose logs contain the marker.
type Trigger struct {
	Signature solana.Signature
	BlockTime time.Time
	Logs      []string
}

type MonitorConfig struct {
	Account      solana.PublicKey
	Marker       string
	PollInterval time.Duration
	Now          func() time.Time
}

type Monitor struct {
	ledger  ledger.IClient
	config  *MonitorConfig
	metrics *metrics.UploaderMetrics
	logger  *zap.Logger

	mu     sync.Mutex
	cursor Cursor
}

// NewMonitor creates a monitor whose watermark starts at the current time, so
// only events that happen after startup are considered.
func NewMonitor(client ledger.IClient, cfg *MonitorConfig, m *metrics.UploaderMetrics, logger *zap.Logger) (*Monitor, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if cfg == nil || cfg.Account.IsZero() {
		return nil, fmt.Errorf("monitored account is required")
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	mon := &Monitor{
		ledger:  client,
		config:  cfg,
		metrics: m,
		logger:  logger,
		cursor:  Cursor{Watermark: cfg.Now()},
	}
	m.SetWatermark(mon.cursor.Watermark)
	return mon, nil
}

// Cursor returns the current position.
func (m *Monitor) Cursor() Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Poll makes one pass over new history entries, oldest first. It returns the
// first entry whose logs contain the marker, or nil if there is none. The
// cursor advances over every entry processed before the trigger; the trigger
// itself is only passed once Acknowledge is called.
//
// Failing to read the signature history is returned as an error. Entries
// without a block time, entries whose transaction cannot be fetched, and
// failed transactions are skipped.
func (m *Monitor) Poll(ctx context.Context) (*Trigger, error) {
	cursor := m.Cursor()

	entries, err := m.ledger.GetSignaturesForAddress(ctx, m.config.Account, cursor.LastSignature)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature history: %w", err)
	}

	// newest first from the ledger; walk oldest first
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]

		if entry.BlockTime == nil {
			m.metrics.IncSkippedEvent("no_block_time")
			continue
		}
		if !entry.BlockTime.After(cursor.Watermark) {
			continue
		}

		tx, err := m.ledger.GetTransaction(ctx, entry.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.metrics.IncSkippedEvent("fetch_failed")
			m.logger.Sugar().Warnw("Failed to fetch transaction, skipping",
				"signature", entry.Signature.String(),
				"error", err,
			)
			continue
		}
		if tx.Failed || entry.Failed {
			m.metrics.IncSkippedEvent("failed_transaction")
			continue
		}

		if containsMarker(tx.Logs, m.config.Marker) {
			m.metrics.IncTriggers()
			m.logger.Sugar().Infow("Resolution event detected",
				"signature", entry.Signature.String(),
				"blockTime", entry.BlockTime.UTC(),
			)
			return &Trigger{
				Signature: entry.Signature,
				BlockTime: *entry.BlockTime,
				Logs:      tx.Logs,
			}, nil
		}

		cursor = m.advance(entry.Signature, *entry.BlockTime)
	}
	return nil, nil
}

// Acknowledge moves the cursor past t once the caller has acted on it.
func (m *Monitor) Acknowledge(t *Trigger) {
	if t == nil {
		return
	}
	m.advance(t.Signature, t.BlockTime)
}

func (m *Monitor) advance(sig solana.Signature, blockTime time.Time) Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blockTime.After(m.cursor.Watermark) {
		m.cursor.Watermark = blockTime
		m.metrics.SetWatermark(blockTime)
	}
	m.cursor.LastSignature = sig
	return m.cursor
}

// WaitForTrigger polls until a trigger is found or ctx ends.
func (m *Monitor) WaitForTrigger(ctx context.Context) (*Trigger, error) {
	for {
		trigger, err := m.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if trigger != nil {
			return trigger, nil
		}

		m.logger.Sugar().Debugw("No resolution event, sleeping",
			"interval", m.config.PollInterval,
			"watermark", m.Cursor().Watermark.UTC(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.config.PollInterval):
		}
	}
}

// Listen runs handleFunc for every trigger until ctx ends or handleFunc
// fails. A trigger is acknowledged only after handleFunc succeeds.
func (m *Monitor) Listen(ctx context.Context, handleFunc func(context.Context, *Trigger) error) error {
	for {
		trigger, err := m.WaitForTrigger(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				m.logger.Sugar().Info("Event monitor exiting due to context done")
				return nil
			}
			return err
		}
		if err := handleFunc(ctx, trigger); err != nil {
			return err
		}
		m.Acknowledge(trigger)
	}
}

func containsMarker(logs []string, marker string) bool {
	for _, line := range logs {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
