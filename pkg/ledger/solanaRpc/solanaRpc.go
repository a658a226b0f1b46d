// Package solanaRpc implements ledger.IClient over the Solana JSON-RPC API.
package solanaRpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trepa-protocol/resolution-prover/pkg/ledger"
)

const (
	// preflightFailureCode is the JSON-RPC error code for a failed simulation
	preflightFailureCode = -32002

	defaultConfirmPollInterval = 500 * time.Millisecond
)

type ClientConfig struct {
	Endpoint string

	// RequestsPerSecond caps outgoing RPC calls. Zero disables the limiter.
	RequestsPerSecond float64
	Burst             int

	Commitment          rpc.CommitmentType
	ConfirmPollInterval time.Duration
	SkipPreflight       bool
}

type Client struct {
	rpc     *rpc.Client
	limiter *rate.Limiter
	config  *ClientConfig
	logger  *zap.Logger
}

var _ ledger.IClient = (*Client)(nil)

// NewClient creates a JSON-RPC backed ledger client.
func NewClient(cfg *ClientConfig, l *zap.Logger) (*Client, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = defaultConfirmPollInterval
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		rpc:     rpc.New(cfg.Endpoint),
		limiter: limiter,
		config:  cfg,
		logger:  l,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (*ledger.Blockhash, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.rpc.GetLatestBlockhash(ctx, c.config.Commitment)
	if err != nil {
		return nil, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("getLatestBlockhash: empty response")
	}
	return &ledger.Blockhash{
		Hash:                 res.Value.Blockhash,
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
	}, nil
}

func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.rpc.GetBalance(ctx, account, c.config.Commitment)
	if err != nil {
		return 0, fmt.Errorf("getBalance %s: %w", account, err)
	}
	return res.Value, nil
}

// SendAndConfirmTransaction sends tx and polls its status until it reaches
// the configured commitment, fails, or the blockhash expires.
func (c *Client) SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction, blockhash *ledger.Blockhash) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.config.SkipPreflight,
		PreflightCommitment: c.config.Commitment,
	})
	if err != nil {
		if txErr := preflightError(err); txErr != nil {
			return signatureOf(tx), txErr
		}
		return signatureOf(tx), fmt.Errorf("sendTransaction: %w", err)
	}

	ticker := time.NewTicker(c.config.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return sig, ctx.Err()
		case <-ticker.C:
		}

		done, err := c.checkStatus(ctx, sig)
		if done || err != nil {
			return sig, err
		}

		if blockhash != nil && blockhash.LastValidBlockHeight > 0 {
			expired, err := c.blockhashExpired(ctx, blockhash)
			if err != nil {
				c.logger.Sugar().Debugw("Failed to read block height", "signature", sig.String(), "error", err)
				continue
			}
			if expired {
				// One last look: the transaction may have landed in the final valid block
				if done, err := c.checkStatus(ctx, sig); done || err != nil {
					return sig, err
				}
				return sig, ledger.ErrBlockhashExpired
			}
		}
	}
}

// checkStatus reports whether sig reached the configured commitment. A
// non-nil error is returned when the transaction executed and failed.
func (c *Client) checkStatus(ctx context.Context, sig solana.Signature) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		c.logger.Sugar().Debugw("Failed to read signature status", "signature", sig.String(), "error", err)
		return false, nil
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return false, nil
	}

	status := res.Value[0]
	if status.Err != nil {
		return true, ledger.ParseTransactionError(status.Err)
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return true, nil
	case rpc.ConfirmationStatusConfirmed:
		return c.config.Commitment != rpc.CommitmentFinalized, nil
	}
	return false, nil
}

func (c *Client) blockhashExpired(ctx context.Context, blockhash *ledger.Blockhash) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	height, err := c.rpc.GetBlockHeight(ctx, c.config.Commitment)
	if err != nil {
		return false, err
	}
	return height > blockhash.LastValidBlockHeight, nil
}

func (c *Client) GetSignaturesForAddress(ctx context.Context, account solana.PublicKey, until solana.Signature) ([]*ledger.SignatureInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	opts := &rpc.GetSignaturesForAddressOpts{Commitment: c.config.Commitment}
	if !until.IsZero() {
		opts.Until = until
	}

	res, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress %s: %w", account, err)
	}

	out := make([]*ledger.SignatureInfo, 0, len(res))
	for _, entry := range res {
		if entry == nil {
			continue
		}
		out = append(out, &ledger.SignatureInfo{
			Signature: entry.Signature,
			Slot:      entry.Slot,
			BlockTime: blockTime(entry.BlockTime),
			Failed:    entry.Err != nil,
		})
	}
	return out, nil
}

func (c *Client) GetTransaction(ctx context.Context, signature solana.Signature) (*ledger.TransactionDetails, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.config.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if res == nil {
		return nil, ledger.ErrTransactionNotFound
	}

	details := &ledger.TransactionDetails{
		Signature: signature,
		Slot:      res.Slot,
		BlockTime: blockTime(res.BlockTime),
	}
	if res.Meta != nil {
		details.Failed = res.Meta.Err != nil
		details.Logs = res.Meta.LogMessages
	}
	return details, nil
}

func blockTime(ts *solana.UnixTimeSeconds) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time().UTC()
	return &t
}

func signatureOf(tx *solana.Transaction) solana.Signature {
	if tx == nil || len(tx.Signatures) == 0 {
		return solana.Signature{}
	}
	return tx.Signatures[0]
}

// preflightError extracts the typed transaction error from a failed
// simulation response, or nil when err is not one.
func preflightError(err error) *ledger.TransactionError {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return nil
	}
	if rpcErr.Code != preflightFailureCode {
		return nil
	}
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	txErr := ledger.ParseTransactionError(data["err"])
	if txErr == nil {
		return nil
	}
	txErr.Preflight = true
	return txErr
}
