// Package workflow publishes the Merkle roots of a commitment artifact: it
// filters the trees this node may publish, checks the authority can pay for
// them, and hands one transaction per tree to the submission engine.
package workflow

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/artifact"
	"github.com/trepa-protocol/resolution-prover/pkg/config"
	"github.com/trepa-protocol/resolution-prover/pkg/instructions"
	"github.com/trepa-protocol/resolution-prover/pkg/ledger"
	"github.com/trepa-protocol/resolution-prover/pkg/metrics"
	"github.com/trepa-protocol/resolution-prover/pkg/notifier"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
	"github.com/trepa-protocol/resolution-prover/pkg/submission"
	"github.com/trepa-protocol/resolution-prover/pkg/transactionSigner"
	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

var (
	// ErrMalformedInput is the artifact error, re-exported for callers that
	// only import the workflow.
	ErrMalformedInput = artifact.ErrMalformedInput

	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrConflictingCommitment       = errors.New("conflicting commitment")
	ErrUnrecoverablePartialFailure = errors.New("unrecoverable partial failure")
)

// Exclusion reasons reported in metrics.
const (
	excludedForeignAuthority = "foreign_authority"
	excludedForeignPool      = "foreign_pool"
	excludedAlreadyPublished = "already_published"
)

// Workflow run results reported in metrics.
const (
	runSucceeded = "succeeded"
	runFailed    = "failed"
)

type Config struct {
	Addresses            *config.ProgramAddresses
	ProtocolFee          uint64
	LamportsPerSignature uint64
	Engine               submission.EngineConfig
}

// Report summarises one invocation.
type Report struct {
	RunID            string
	Loaded           int
	ForeignAuthority int
	ForeignPool      int
	AlreadyPublished int
	Submitted        int
	Confirmed        int
	AlreadyApplied   int
}

type Uploader struct {
	config   *Config
	source   artifact.ISource
	signers  transactionSigner.ISignerSource
	ledger   ledger.IClient
	store    persistence.IPublicationStore
	notifier notifier.INotifier
	metrics  *metrics.UploaderMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewUploader wires an uploader. store and n may be nil; without a store no
// journal is kept, without a notifier nothing is announced.
func NewUploader(
	cfg *Config,
	source artifact.ISource,
	signers transactionSigner.ISignerSource,
	client ledger.IClient,
	store persistence.IPublicationStore,
	n notifier.INotifier,
	m *metrics.UploaderMetrics,
	logger *zap.Logger,
) (*Uploader, error) {
	if cfg == nil || cfg.Addresses == nil {
		return nil, errors.New("workflow config with resolved addresses is required")
	}
	if source == nil || signers == nil || client == nil {
		return nil, errors.New("artifact source, signer source and ledger client are required")
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if cfg.LamportsPerSignature == 0 {
		cfg.LamportsPerSignature = config.LamportsPerSignature
	}
	if n == nil {
		n = notifier.NoopNotifier{}
	}
	return &Uploader{
		config:   cfg,
		source:   source,
		signers:  signers,
		ledger:   client,
		store:    store,
		notifier: n,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run performs one upload. Any error is fatal to the caller: the returned
// Report is still filled in as far as the run got.
func (u *Uploader) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	err := u.run(ctx, report)
	if err != nil {
		u.metrics.IncWorkflowRun(runFailed)
		u.logger.Sugar().Errorw("Upload failed", "runId", report.RunID, "error", err)
		return report, err
	}
	u.metrics.IncWorkflowRun(runSucceeded)
	return report, nil
}

func (u *Uploader) run(ctx context.Context, report *Report) error {
	sugar := u.logger.Sugar().With("runId", report.RunID)

	trees, err := u.source.Load(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to load artifact from %s", u.source)
	}
	report.Loaded = len(trees)

	signer, err := u.signers.LoadSigner(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load signing credential")
	}
	authority := signer.PublicKey()

	eligible, err := u.selectTrees(trees, authority, report)
	if err != nil {
		return err
	}
	sugar.Infow("Selected trees to upload",
		"loaded", report.Loaded,
		"eligible", len(eligible),
		"foreignAuthority", report.ForeignAuthority,
		"foreignPool", report.ForeignPool,
		"alreadyPublished", report.AlreadyPublished,
		"authority", authority.String(),
	)
	if len(eligible) == 0 {
		return nil
	}

	if err := u.preflight(ctx, authority, len(eligible)); err != nil {
		return err
	}

	txs, err := BuildTransactions(u.config.Addresses, authority, u.config.ProtocolFee, eligible)
	if err != nil {
		return errors.Wrap(err, "failed to build transactions")
	}
	report.Submitted = len(txs)

	engineConfig := u.config.Engine
	engine, err := submission.NewEngine(u.ledger, signer, &engineConfig, u.metrics, u.logger)
	if err != nil {
		return err
	}
	result, err := engine.Run(ctx, txs)
	if err != nil {
		return errors.Wrap(err, "submission failed")
	}

	for i, tx := range txs {
		key, err := submission.MessageKey(tx)
		if err != nil {
			return err
		}
		confirmation, ok := result.Confirmed[key]
		if !ok {
			continue
		}
		report.Confirmed++
		if confirmation.Outcome == submission.OutcomeAlreadyApplied {
			report.AlreadyApplied++
		}
		u.recordPublication(ctx, report.RunID, eligible[i], confirmation)
	}
	u.metrics.AddTreesPublished(report.Confirmed)

	if len(result.Remaining) > 0 {
		return errors.Wrapf(ErrUnrecoverablePartialFailure, "%d transactions sent, %d failed",
			len(txs), len(result.Remaining))
	}

	sugar.Infow("Uploaded merkle roots",
		"confirmed", report.Confirmed,
		"alreadyApplied", report.AlreadyApplied,
		"rounds", result.Rounds,
	)
	return nil
}

// selectTrees keeps the trees authority may publish for the configured pool
// that are not already journaled.
func (u *Uploader) selectTrees(trees []*types.GeneratedMerkleTree, authority solana.PublicKey, report *Report) ([]*types.GeneratedMerkleTree, error) {
	pool := u.config.Addresses.Pool
	eligible := make([]*types.GeneratedMerkleTree, 0, len(trees))
	seenPool := false

	for _, tree := range trees {
		if !tree.MerkleRootUploadAuthority.Equals(authority) {
			report.ForeignAuthority++
			continue
		}
		if !tree.Pool.Equals(pool) {
			report.ForeignPool++
			continue
		}
		if seenPool {
			return nil, errors.Wrapf(ErrMalformedInput, "more than one tree for pool %s", pool)
		}
		seenPool = true

		if u.store != nil {
			published, err := u.store.LoadPublication(pool)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read publication journal")
			}
			if published != nil {
				if published.Root != tree.MerkleRoot {
					return nil, errors.Wrapf(ErrConflictingCommitment,
						"pool %s already has root %x published in run %s, artifact has %x",
						pool, published.Root, published.RunID, tree.MerkleRoot)
				}
				report.AlreadyPublished++
				continue
			}
		}
		eligible = append(eligible, tree)
	}

	u.metrics.AddTreesExcluded(excludedForeignAuthority, report.ForeignAuthority)
	u.metrics.AddTreesExcluded(excludedForeignPool, report.ForeignPool)
	u.metrics.AddTreesExcluded(excludedAlreadyPublished, report.AlreadyPublished)
	return eligible, nil
}

// preflight fails unless authority can pay a signature fee for every
// transaction, so a run never stops halfway for lack of funds.
func (u *Uploader) preflight(ctx context.Context, authority solana.PublicKey, count int) error {
	balance, err := u.ledger.GetBalance(ctx, authority)
	if err != nil {
		return errors.Wrapf(err, "failed to get balance of %s", authority)
	}
	u.metrics.SetSignerBalance(balance)

	required := uint64(count) * u.config.LamportsPerSignature
	if balance < required {
		return errors.Wrapf(ErrInsufficientFunds,
			"expected to have at least %d lamports in %s, current balance is %d lamports, deposit %d SOL to continue",
			required, authority, balance, config.SOLToDeposit(required-balance))
	}
	return nil
}

// recordPublication journals and announces a landed commitment. Failures are
// logged: the root is on the ledger either way.
func (u *Uploader) recordPublication(ctx context.Context, runID string, tree *types.GeneratedMerkleTree, c submission.Confirmation) {
	pub := &persistence.Publication{
		Pool:        tree.Pool,
		Root:        tree.MerkleRoot,
		Authority:   tree.MerkleRootUploadAuthority,
		Signature:   c.Signature,
		Outcome:     c.Outcome.String(),
		RunID:       runID,
		NodeCount:   tree.MaxNumNodes,
		PublishedAt: u.now().Unix(),
	}

	if u.store != nil {
		if err := u.store.SavePublication(pub); err != nil {
			u.logger.Sugar().Warnw("Failed to journal publication",
				"pool", pub.Pool.String(), "signature", pub.Signature.String(), "error", err)
		}
	}
	if err := u.notifier.NotifyPublished(ctx, pub); err != nil {
		u.logger.Sugar().Warnw("Failed to announce publication",
			"pool", pub.Pool.String(), "signature", pub.Signature.String(), "error", err)
	}
}

// BuildTransactions returns one unsigned publish transaction per tree, paid
// for by authority and carrying a zero blockhash.
func BuildTransactions(
	addrs *config.ProgramAddresses,
	authority solana.PublicKey,
	protocolFee uint64,
	trees []*types.GeneratedMerkleTree,
) ([]*solana.Transaction, error) {
	txs := make([]*solana.Transaction, 0, len(trees))
	for _, tree := range trees {
		ix, err := instructions.PublishCommitment(addrs.ProgramID,
			instructions.PublishCommitmentArgs{
				Root:        tree.MerkleRoot,
				ProtocolFee: protocolFee,
			},
			instructions.PublishCommitmentAccounts{
				Authority:            authority,
				Pool:                 tree.Pool,
				PoolTokenAccount:     addrs.PoolTokenAccount,
				TreasuryTokenAccount: addrs.TreasuryTokenAccount,
				Config:               addrs.Config,
				Mint:                 addrs.Mint,
				TokenProgram:         addrs.TokenProgram,
			},
		)
		if err != nil {
			return nil, errors.Wrapf(err, "pool %s", tree.Pool)
		}

		tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(authority))
		if err != nil {
			return nil, errors.Wrapf(err, "pool %s", tree.Pool)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
