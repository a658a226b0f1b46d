package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/trepa-protocol/resolution-prover/pkg/config"
)

func main() {
	app := &cli.App{
		Name:  "merkle-root-uploader",
		Usage: "Publishes prediction pool payout Merkle roots",
		Description: `Publishes the Merkle root of each resolved pool's payout tree so that
winners can claim with an inclusion proof.

Commands:
- run: wait for pool resolution events and upload after each one
- upload: upload the commitment artifact once
- generate: build a commitment artifact from prize collections
- verify-claim: check a recipient's claim against an artifact`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Monitor the program for resolution events and upload after each",
				Flags:  append(uploaderFlags(), monitorFlags()...),
				Action: runCommand,
			},
			{
				Name:   "upload",
				Usage:  "Upload the commitment artifact now",
				Flags:  uploaderFlags(),
				Action: uploadCommand,
			},
			{
				Name:  "generate",
				Usage: "Build a commitment artifact from a prize collection file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "JSON array of prize collections",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Where to write the commitment artifact",
						EnvVars:  []string{config.EnvMerkleRootPath},
						Required: true,
					},
					verboseFlag(),
				},
				Action: generateCommand,
			},
			{
				Name:  "verify-claim",
				Usage: "Check that a recipient's proof in an artifact verifies against its root",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "merkle-root-path",
						Usage:    "Commitment artifact",
						EnvVars:  []string{config.EnvMerkleRootPath},
						Required: true,
					},
					&cli.StringFlag{
						Name:     "recipient",
						Usage:    "Recipient public key (base58)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "pool",
						Usage: "Only check the tree for this pool (base58)",
					},
					&cli.Uint64Flag{
						Name:  "amount",
						Usage: "Amount to claim; defaults to the amount in the artifact",
					},
					verboseFlag(),
				},
				Action: verifyClaimCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{config.EnvVerbose},
	}
}

func uploaderFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "merkle-root-path",
			Usage:    "Commitment artifact: local path or s3://bucket/key",
			EnvVars:  []string{config.EnvMerkleRootPath},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "keypair-path",
			Usage:    "Keypair that signs and pays for the commitment transactions",
			EnvVars:  []string{config.EnvKeypairPath},
			Required: true,
		},
		&cli.BoolFlag{
			Name:    "kms-encrypted-keypair",
			Usage:   "The keypair file is a KMS ciphertext",
			EnvVars: []string{config.EnvKMSEncryptedKeypair},
		},
		&cli.StringFlag{
			Name:    "kms-key-id",
			Usage:   "KMS key that encrypted the keypair",
			EnvVars: []string{config.EnvKMSKeyID},
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Aliases: []string{"rpc"},
			Usage:   "RPC endpoint; overrides --cluster",
			EnvVars: []string{config.EnvRPCURL},
		},
		&cli.StringFlag{
			Name:    "cluster",
			Usage:   "Cluster whose public RPC endpoint to use: " + config.GetSupportedClustersString(),
			Value:   string(config.Cluster_MainnetBeta),
			EnvVars: []string{config.EnvCluster},
		},
		&cli.StringFlag{
			Name:    "program-id",
			Usage:   "Prediction program id",
			Value:   config.DefaultProgramID,
			EnvVars: []string{config.EnvProgramID},
		},
		&cli.StringFlag{
			Name:    "pool-id",
			Usage:   "Pool identifier (16 bytes hex)",
			Value:   config.DefaultPoolID,
			EnvVars: []string{config.EnvPoolID},
		},
		&cli.StringFlag{
			Name:    "treasury-token-account",
			Usage:   "Treasury token account that receives the protocol fee",
			Value:   config.DefaultTreasuryTokenAccount,
			EnvVars: []string{config.EnvTreasuryTokenAccount},
		},
		&cli.StringFlag{
			Name:    "mint",
			Usage:   "Mint of the pool's token account",
			Value:   config.DefaultMint,
			EnvVars: []string{config.EnvMint},
		},
		&cli.Uint64Flag{
			Name:    "protocol-fee",
			Usage:   "Protocol fee passed with each commitment",
			EnvVars: []string{config.EnvProtocolFee},
		},
		&cli.IntFlag{
			Name:    "max-concurrent-rpc-get-reqs",
			Usage:   "Maximum submissions in flight at once",
			Value:   config.DefaultMaxConcurrentRPCGetReqs,
			EnvVars: []string{config.EnvMaxConcurrentRPCGetReqs},
		},
		&cli.IntFlag{
			Name:    "txn-send-batch-size",
			Usage:   "Transactions sent per round",
			Value:   config.DefaultTxnSendBatchSize,
			EnvVars: []string{config.EnvTxnSendBatchSize},
		},
		&cli.Float64Flag{
			Name:    "rpc-requests-per-second",
			Usage:   "RPC request rate limit, 0 for none",
			Value:   config.DefaultRPCRequestsPerSecond,
			EnvVars: []string{config.EnvRPCRequestsPerSecond},
		},
		&cli.DurationFlag{
			Name:    "max-retry-duration",
			Usage:   "Time budget for confirming every transaction",
			Value:   config.DefaultMaxRetryDuration,
			EnvVars: []string{config.EnvMaxRetryDuration},
		},
		&cli.DurationFlag{
			Name:    "retry-delay",
			Usage:   "Pause between submission rounds",
			Value:   config.DefaultRetryDelay,
			EnvVars: []string{config.EnvRetryDelay},
		},
		&cli.DurationFlag{
			Name:    "blockhash-staleness",
			Usage:   "Age after which the blockhash is refetched",
			Value:   config.DefaultBlockhashStaleness,
			EnvVars: []string{config.EnvBlockhashStaleness},
		},
		&cli.StringFlag{
			Name:    "persistence-type",
			Usage:   "Publication journal backend: memory, badger, pebble or redis",
			Value:   string(config.PersistenceType_Memory),
			EnvVars: []string{config.EnvPersistenceType},
		},
		&cli.StringFlag{
			Name:    "data-path",
			Usage:   "Directory of the badger or pebble journal",
			EnvVars: []string{config.EnvDataPath},
		},
		&cli.StringFlag{
			Name:    "redis-address",
			EnvVars: []string{config.EnvRedisAddress},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			EnvVars: []string{config.EnvRedisPassword},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			EnvVars: []string{config.EnvRedisDB},
		},
		&cli.StringFlag{
			Name:    "redis-key-prefix",
			EnvVars: []string{config.EnvRedisKeyPrefix},
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Announce publications to these brokers",
			EnvVars: []string{config.EnvKafkaBrokers},
		},
		&cli.StringFlag{
			Name:    "kafka-topic",
			EnvVars: []string{config.EnvKafkaTopic},
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port of the Prometheus endpoint, 0 to disable",
			Value:   config.DefaultMetricsPort,
			EnvVars: []string{config.EnvMetricsPort},
		},
		&cli.StringFlag{
			Name:    "aws-region",
			EnvVars: []string{config.EnvAWSRegion},
		},
		verboseFlag(),
	}
}

func monitorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "monitored-account",
			Usage:   "Account whose history is watched; defaults to the program id",
			EnvVars: []string{config.EnvMonitoredAccount},
		},
		&cli.StringFlag{
			Name:    "event-marker",
			Usage:   "Log line substring that triggers an upload",
			Value:   config.DefaultEventMarker,
			EnvVars: []string{config.EnvEventMarker},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Value:   config.DefaultPollInterval,
			EnvVars: []string{config.EnvPollInterval},
		},
	}
}

func parseUploaderConfig(c *cli.Context) *config.UploaderConfig {
	cfg := config.NewDefaultUploaderConfig()
	cfg.MerkleRootPath = c.String("merkle-root-path")
	cfg.KeypairPath = c.String("keypair-path")
	cfg.KMSEncrypted = c.Bool("kms-encrypted-keypair")
	cfg.KMSKeyID = c.String("kms-key-id")
	cfg.RpcUrl = c.String("rpc-url")
	cfg.Cluster = config.Cluster(c.String("cluster"))
	cfg.ProgramID = c.String("program-id")
	cfg.PoolID = c.String("pool-id")
	cfg.TreasuryTokenAccount = c.String("treasury-token-account")
	cfg.Mint = c.String("mint")
	cfg.ProtocolFee = c.Uint64("protocol-fee")
	cfg.MaxConcurrentRpcGetReqs = c.Int("max-concurrent-rpc-get-reqs")
	cfg.TxnSendBatchSize = c.Int("txn-send-batch-size")
	cfg.RpcRequestsPerSecond = c.Float64("rpc-requests-per-second")
	cfg.MaxRetryDuration = c.Duration("max-retry-duration")
	cfg.RetryDelay = c.Duration("retry-delay")
	cfg.BlockhashStaleness = c.Duration("blockhash-staleness")
	cfg.PersistenceType = config.PersistenceType(c.String("persistence-type"))
	cfg.DataPath = c.String("data-path")
	cfg.RedisAddress = c.String("redis-address")
	cfg.RedisPassword = c.String("redis-password")
	cfg.RedisDB = c.Int("redis-db")
	cfg.RedisKeyPrefix = c.String("redis-key-prefix")
	cfg.KafkaBrokers = c.StringSlice("kafka-brokers")
	cfg.KafkaTopic = c.String("kafka-topic")
	cfg.MetricsPort = c.Int("metrics-port")
	cfg.AWSRegion = c.String("aws-region")
	cfg.Debug = c.Bool("verbose")

	if c.Command.Name == "run" {
		cfg.MonitoredAccount = c.String("monitored-account")
		cfg.EventMarker = c.String("event-marker")
		cfg.PollInterval = c.Duration("poll-interval")
	}
	return cfg
}
