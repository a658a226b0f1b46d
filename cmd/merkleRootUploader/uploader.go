package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	internalAWS "github.com/trepa-protocol/resolution-prover/internal/aws"
	"github.com/trepa-protocol/resolution-prover/pkg/artifact"
	"github.com/trepa-protocol/resolution-prover/pkg/config"
	"github.com/trepa-protocol/resolution-prover/pkg/eventMonitor"
	"github.com/trepa-protocol/resolution-prover/pkg/keystore"
	"github.com/trepa-protocol/resolution-prover/pkg/ledger/solanaRpc"
	"github.com/trepa-protocol/resolution-prover/pkg/logger"
	"github.com/trepa-protocol/resolution-prover/pkg/metrics"
	"github.com/trepa-protocol/resolution-prover/pkg/notifier"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence/badger"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence/memory"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence/pebble"
	"github.com/trepa-protocol/resolution-prover/pkg/persistence/redis"
	"github.com/trepa-protocol/resolution-prover/pkg/submission"
	"github.com/trepa-protocol/resolution-prover/pkg/transactionSigner"
	"github.com/trepa-protocol/resolution-prover/pkg/workflow"
)

const metricsNamespace = "merkle_root_uploader"

// app holds everything run and upload share. close releases it.
type app struct {
	config   *config.UploaderConfig
	uploader *workflow.Uploader
	ledger   *solanaRpc.Client
	metrics  *metrics.UploaderMetrics
	registry *prometheus.Registry
	logger   *zap.Logger

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func newApp(ctx context.Context, c *cli.Context) (*app, error) {
	cfg := parseUploaderConfig(c)

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	addrs, err := cfg.ResolveAddresses()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	l.Sugar().Infow("Resolved program addresses",
		"programId", addrs.ProgramID.String(),
		"pool", addrs.Pool.String(),
		"poolTokenAccount", addrs.PoolTokenAccount.String(),
		"config", addrs.Config.String(),
		"treasuryTokenAccount", addrs.TreasuryTokenAccount.String(),
		"mint", addrs.Mint.String(),
	)

	a := &app{config: cfg, logger: l, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewUploaderMetrics(metricsNamespace, a.registry)

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	a.ledger, err = solanaRpc.NewClient(&solanaRpc.ClientConfig{
		Endpoint:          cfg.EffectiveRpcUrl(),
		RequestsPerSecond: cfg.RpcRequestsPerSecond,
	}, l)
	if err != nil {
		return nil, err
	}

	var awsClients *internalAWS.Clients
	_, _, isS3 := artifact.ParseS3URI(cfg.MerkleRootPath)
	if isS3 || cfg.KMSEncrypted {
		awsCfg, err := internalAWS.LoadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsClients = internalAWS.NewClients(awsCfg)
		internalAWS.LogCallerIdentity(ctx, awsClients.STS, l)
	}

	var s3Client artifact.S3GetObjectAPI
	var kmsClient keystore.IKMSDecrypter
	if awsClients != nil {
		s3Client = awsClients.S3
		kmsClient = awsClients.KMS
	}

	source, err := artifact.NewSource(cfg.MerkleRootPath, s3Client)
	if err != nil {
		return nil, err
	}
	signers, err := transactionSigner.NewFileSignerSource(&transactionSigner.SignerConfig{
		KeypairPath:  cfg.KeypairPath,
		KMSEncrypted: cfg.KMSEncrypted,
		KMSKeyID:     cfg.KMSKeyID,
	}, kmsClient, l)
	if err != nil {
		return nil, err
	}

	store, err := newPublicationStore(cfg, l)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = store.Close() })

	n, err := newNotifier(cfg, a.registry, l)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, n.Close)

	a.uploader, err = workflow.NewUploader(&workflow.Config{
		Addresses:            addrs,
		ProtocolFee:          cfg.ProtocolFee,
		LamportsPerSignature: config.LamportsPerSignature,
		Engine: submission.EngineConfig{
			MaxConcurrency:      cfg.MaxConcurrentRpcGetReqs,
			BatchSize:           cfg.TxnSendBatchSize,
			MaxTotalDuration:    cfg.MaxRetryDuration,
			BlockhashStaleness:  cfg.BlockhashStaleness,
			RetryDelay:          cfg.RetryDelay,
			AlreadyAppliedCodes: []uint32{0},
		},
	}, source, signers, a.ledger, store, n, a.metrics, l)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func newPublicationStore(cfg *config.UploaderConfig, l *zap.Logger) (persistence.IPublicationStore, error) {
	switch cfg.PersistenceType {
	case config.PersistenceType_Badger:
		return badger.NewBadgerPersistence(cfg.DataPath, l)
	case config.PersistenceType_Pebble:
		return pebble.NewPebblePersistence(cfg.DataPath, l)
	case config.PersistenceType_Redis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
	default:
		return memory.NewMemoryPersistence(l), nil
	}
}

func newNotifier(cfg *config.UploaderConfig, reg *prometheus.Registry, l *zap.Logger) (notifier.INotifier, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return notifier.NoopNotifier{}, nil
	}
	kcl, err := notifier.NewKafkaClient(notifier.KafkaConfig{
		Brokers:          cfg.KafkaBrokers,
		Topic:            cfg.KafkaTopic,
		MetricsNamespace: metricsNamespace,
	}, reg, reg)
	if err != nil {
		return nil, err
	}
	return notifier.NewKafkaNotifier(kcl, cfg.KafkaTopic, l), nil
}

func (a *app) serveMetrics(ctx context.Context) {
	if a.config.MetricsPort == 0 {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, a.config.MetricsPort, a.registry, a.logger); err != nil {
			a.logger.Sugar().Errorw("Metrics server failed", "error", err)
		}
	}()
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
}

func uploadCommand(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()
	a.serveMetrics(ctx)

	report, err := a.uploader.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to upload merkle roots: %w", err)
	}
	a.logger.Sugar().Infow("Upload complete",
		"runId", report.RunID,
		"submitted", report.Submitted,
		"confirmed", report.Confirmed,
	)
	return nil
}

func runCommand(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()
	a.serveMetrics(ctx)

	addrs, err := a.config.ResolveAddresses()
	if err != nil {
		return err
	}
	monitor, err := eventMonitor.NewMonitor(a.ledger, &eventMonitor.MonitorConfig{
		Account:      addrs.MonitoredAccount,
		Marker:       a.config.EventMarker,
		PollInterval: a.config.PollInterval,
	}, a.metrics, a.logger)
	if err != nil {
		return err
	}

	a.logger.Sugar().Infow("Waiting for resolution events",
		"account", addrs.MonitoredAccount.String(),
		"marker", a.config.EventMarker,
		"pollInterval", a.config.PollInterval,
	)

	return monitor.Listen(ctx, func(ctx context.Context, trigger *eventMonitor.Trigger) error {
		a.logger.Sugar().Infow("Resolution event detected, uploading merkle roots",
			"signature", trigger.Signature.String(),
			"blockTime", trigger.BlockTime,
		)
		report, err := a.uploader.Run(ctx)
		if err != nil {
			return fmt.Errorf("failed to upload merkle roots: %w", err)
		}
		a.logger.Sugar().Infow("Uploaded merkle roots, waiting for next event",
			"runId", report.RunID,
			"confirmed", report.Confirmed,
			"source", a.config.MerkleRootPath,
		)
		return nil
	})
}
