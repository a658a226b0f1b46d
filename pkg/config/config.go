package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/trepa-protocol/resolution-prover/pkg/instructions"
)

// Environment variable names for the uploader
const (
	EnvMerkleRootPath          = "MERKLE_ROOT_PATH"
	EnvKeypairPath             = "KEYPAIR_PATH"
	EnvKMSEncryptedKeypair     = "KMS_ENCRYPTED_KEYPAIR"
	EnvKMSKeyID                = "KMS_KEY_ID"
	EnvRPCURL                  = "RPC_URL"
	EnvCluster                 = "CLUSTER"
	EnvProgramID               = "PROGRAM_ID"
	EnvPoolID                  = "POOL_ID"
	EnvMonitoredAccount        = "MONITORED_ACCOUNT"
	EnvEventMarker             = "EVENT_MARKER"
	EnvPollInterval            = "POLL_INTERVAL"
	EnvMaxConcurrentRPCGetReqs = "MAX_CONCURRENT_RPC_GET_REQS"
	EnvTxnSendBatchSize        = "TXN_SEND_BATCH_SIZE"
	EnvRPCRequestsPerSecond    = "RPC_REQUESTS_PER_SECOND"
	EnvMaxRetryDuration        = "MAX_RETRY_DURATION"
	EnvRetryDelay              = "RETRY_DELAY"
	EnvBlockhashStaleness      = "BLOCKHASH_STALENESS"
	EnvProtocolFee             = "PROTOCOL_FEE"
	EnvTreasuryTokenAccount    = "TREASURY_TOKEN_ACCOUNT"
	EnvMint                    = "MINT"
	EnvPersistenceType         = "PERSISTENCE_TYPE"
	EnvDataPath                = "DATA_PATH"
	EnvRedisAddress            = "REDIS_ADDRESS"
	EnvRedisPassword           = "REDIS_PASSWORD"
	EnvRedisDB                 = "REDIS_DB"
	EnvRedisKeyPrefix          = "REDIS_KEY_PREFIX"
	EnvKafkaBrokers            = "KAFKA_BROKERS"
	EnvKafkaTopic              = "KAFKA_TOPIC"
	EnvMetricsPort             = "METRICS_PORT"
	EnvAWSRegion               = "AWS_REGION"
	EnvVerbose                 = "VERBOSE"
)

const (
	DefaultPoolID                  = "b9cdc74ec59a4dbc8006c3e326040824"
	DefaultProgramID               = "55VKBiih7w3zNsYsx9LoSzgjXQjm2PW2u2LLJKf6o12e"
	DefaultTreasuryTokenAccount    = "6pSTqcVeZNJMRFRMZdjCaYRaCg5z3FsdZNYmjpfRq9Sm"
	DefaultMint                    = "So11111111111111111111111111111111111111112"
	DefaultEventMarker             = "Instruction: ResolvePool"
	DefaultMaxConcurrentRPCGetReqs = 100
	DefaultTxnSendBatchSize        = 64
	DefaultRPCRequestsPerSecond    = 50
	DefaultMaxRetryDuration        = 600 * time.Second
	DefaultRetryDelay              = 100 * time.Millisecond
	DefaultBlockhashStaleness      = 1 * time.Second
	DefaultPollInterval            = 10 * time.Second
	DefaultMetricsPort             = 9090

	// LamportsPerSignature is the fee budgeted for each commitment transaction.
	LamportsPerSignature uint64 = 10_000
)

type Cluster string

const (
	Cluster_MainnetBeta Cluster = "mainnet-beta"
	Cluster_Devnet      Cluster = "devnet"
	Cluster_Testnet     Cluster = "testnet"
	Cluster_Localnet    Cluster = "localnet"
)

var ClusterToRPCURL = map[Cluster]string{
	Cluster_MainnetBeta: rpc.MainNetBeta_RPC,
	Cluster_Devnet:      rpc.DevNet_RPC,
	Cluster_Testnet:     rpc.TestNet_RPC,
	Cluster_Localnet:    rpc.LocalNet_RPC,
}

// GetSupportedClustersString returns supported clusters for CLI help
func GetSupportedClustersString() string {
	return fmt.Sprintf("%s, %s, %s, %s", Cluster_MainnetBeta, Cluster_Devnet, Cluster_Testnet, Cluster_Localnet)
}

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Pebble PersistenceType = "pebble"
	PersistenceType_Redis  PersistenceType = "redis"
)

// UploaderConfig is the complete configuration for the merkle root uploader
type UploaderConfig struct {
	// Commitment artifact: local path or s3://bucket/key
	MerkleRootPath string `json:"merkle_root_path"`

	// Upload authority credential
	KeypairPath  string `json:"keypair_path"`
	KMSEncrypted bool   `json:"kms_encrypted"`
	KMSKeyID     string `json:"kms_key_id"`

	// Ledger endpoint. Cluster fills RpcUrl when it is empty.
	RpcUrl  string  `json:"rpc_url"`
	Cluster Cluster `json:"cluster"`

	// Program accounts
	ProgramID            string `json:"program_id"`
	PoolID               string `json:"pool_id"` // 16 bytes hex, optional 0x prefix
	TreasuryTokenAccount string `json:"treasury_token_account"`
	Mint                 string `json:"mint"`
	ProtocolFee          uint64 `json:"protocol_fee"`

	// Event monitoring. MonitoredAccount defaults to ProgramID.
	MonitoredAccount string        `json:"monitored_account"`
	EventMarker      string        `json:"event_marker"`
	PollInterval     time.Duration `json:"poll_interval"`

	// Submission
	MaxConcurrentRpcGetReqs int           `json:"max_concurrent_rpc_get_reqs"`
	TxnSendBatchSize        int           `json:"txn_send_batch_size"`
	RpcRequestsPerSecond    float64       `json:"rpc_requests_per_second"`
	MaxRetryDuration        time.Duration `json:"max_retry_duration"`
	RetryDelay              time.Duration `json:"retry_delay"`
	BlockhashStaleness      time.Duration `json:"blockhash_staleness"`

	// Publication journal
	PersistenceType PersistenceType `json:"persistence_type"`
	DataPath        string          `json:"data_path"`
	RedisAddress    string          `json:"redis_address"`
	RedisPassword   string          `json:"-"`
	RedisDB         int             `json:"redis_db"`
	RedisKeyPrefix  string          `json:"redis_key_prefix"`

	// Publication events. Disabled when no brokers are set.
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`

	// 0 disables the metrics endpoint
	MetricsPort int `json:"metrics_port"`

	AWSRegion string `json:"aws_region"`

	Debug bool `json:"debug"`
}

// NewDefaultUploaderConfig returns a config with every optional field at its default.
func NewDefaultUploaderConfig() *UploaderConfig {
	return &UploaderConfig{
		Cluster:                 Cluster_MainnetBeta,
		ProgramID:               DefaultProgramID,
		PoolID:                  DefaultPoolID,
		TreasuryTokenAccount:    DefaultTreasuryTokenAccount,
		Mint:                    DefaultMint,
		EventMarker:             DefaultEventMarker,
		PollInterval:            DefaultPollInterval,
		MaxConcurrentRpcGetReqs: DefaultMaxConcurrentRPCGetReqs,
		TxnSendBatchSize:        DefaultTxnSendBatchSize,
		RpcRequestsPerSecond:    DefaultRPCRequestsPerSecond,
		MaxRetryDuration:        DefaultMaxRetryDuration,
		RetryDelay:              DefaultRetryDelay,
		BlockhashStaleness:      DefaultBlockhashStaleness,
		PersistenceType:         PersistenceType_Memory,
		MetricsPort:             DefaultMetricsPort,
	}
}

// EffectiveRpcUrl returns RpcUrl, falling back to the cluster's public endpoint.
func (c *UploaderConfig) EffectiveRpcUrl() string {
	if c.RpcUrl != "" {
		return c.RpcUrl
	}
	return ClusterToRPCURL[c.Cluster]
}

// Validate checks every field needed to upload. Monitoring-only settings
// are validated too since `run` and `upload` share one config.
func (c *UploaderConfig) Validate() error {
	var allErrors field.ErrorList

	if c.MerkleRootPath == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("merkleRootPath"), "merkleRootPath is required"))
	}
	if c.KeypairPath == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("keypairPath"), "keypairPath is required"))
	}
	if c.KMSEncrypted && c.KMSKeyID == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("kmsKeyId"), "kmsKeyId is required when the keypair is KMS encrypted"))
	}

	if c.RpcUrl == "" {
		if _, ok := ClusterToRPCURL[c.Cluster]; !ok {
			allErrors = append(allErrors, field.NotSupported(field.NewPath("cluster"), string(c.Cluster),
				[]string{string(Cluster_MainnetBeta), string(Cluster_Devnet), string(Cluster_Testnet), string(Cluster_Localnet)}))
		}
	} else if !strings.HasPrefix(c.RpcUrl, "http://") && !strings.HasPrefix(c.RpcUrl, "https://") {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rpcUrl"), c.RpcUrl, "must be an http(s) URL"))
	}

	for name, value := range map[string]string{
		"programId":            c.ProgramID,
		"treasuryTokenAccount": c.TreasuryTokenAccount,
		"mint":                 c.Mint,
	} {
		if _, err := solana.PublicKeyFromBase58(value); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath(name), value, err.Error()))
		}
	}
	if c.MonitoredAccount != "" {
		if _, err := solana.PublicKeyFromBase58(c.MonitoredAccount); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("monitoredAccount"), c.MonitoredAccount, err.Error()))
		}
	}
	if _, err := ParsePoolID(c.PoolID); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("poolId"), c.PoolID, err.Error()))
	}

	if c.EventMarker == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("eventMarker"), "eventMarker is required"))
	}
	if c.PollInterval <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("pollInterval"), c.PollInterval.String(), "must be positive"))
	}
	if c.MaxConcurrentRpcGetReqs < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxConcurrentRpcGetReqs"), c.MaxConcurrentRpcGetReqs, "must be at least 1"))
	}
	if c.TxnSendBatchSize < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("txnSendBatchSize"), c.TxnSendBatchSize, "must be at least 1"))
	}
	if c.RpcRequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rpcRequestsPerSecond"), c.RpcRequestsPerSecond, "must not be negative"))
	}
	if c.MaxRetryDuration <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxRetryDuration"), c.MaxRetryDuration.String(), "must be positive"))
	}
	if c.RetryDelay < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("retryDelay"), c.RetryDelay.String(), "must not be negative"))
	}
	if c.BlockhashStaleness <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("blockhashStaleness"), c.BlockhashStaleness.String(), "must be positive"))
	}

	switch c.PersistenceType {
	case PersistenceType_Memory:
	case PersistenceType_Badger, PersistenceType_Pebble:
		if c.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataPath"), "dataPath is required for on-disk persistence"))
		}
	case PersistenceType_Redis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redisAddress is required for redis persistence"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), string(c.PersistenceType),
			[]string{string(PersistenceType_Memory), string(PersistenceType_Badger), string(PersistenceType_Pebble), string(PersistenceType_Redis)}))
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("kafkaTopic"), "kafkaTopic is required when kafka brokers are set"))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("metricsPort"), c.MetricsPort, "must be between 0-65535"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ParsePoolID decodes a 16 byte pool identifier from hex, with or without 0x.
func ParsePoolID(s string) ([instructions.PoolIDLength]byte, error) {
	var id [instructions.PoolIDLength]byte
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return id, fmt.Errorf("invalid pool id: %w", err)
	}
	if len(raw) != instructions.PoolIDLength {
		return id, fmt.Errorf("pool id must be %d bytes, got %d", instructions.PoolIDLength, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ProgramAddresses is every account the uploader addresses, parsed and
// derived once at startup. Treat as read-only.
type ProgramAddresses struct {
	ProgramID            solana.PublicKey
	PoolID               [instructions.PoolIDLength]byte
	Pool                 solana.PublicKey
	PoolTokenAccount     solana.PublicKey
	Config               solana.PublicKey
	TreasuryTokenAccount solana.PublicKey
	Mint                 solana.PublicKey
	TokenProgram         solana.PublicKey
	MonitoredAccount     solana.PublicKey
}

// ResolveAddresses parses the configured keys and derives the pool, its
// token account and the program config account.
func (c *UploaderConfig) ResolveAddresses() (*ProgramAddresses, error) {
	programID, err := solana.PublicKeyFromBase58(c.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", c.ProgramID, err)
	}
	treasury, err := solana.PublicKeyFromBase58(c.TreasuryTokenAccount)
	if err != nil {
		return nil, fmt.Errorf("invalid treasury token account %q: %w", c.TreasuryTokenAccount, err)
	}
	mint, err := solana.PublicKeyFromBase58(c.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", c.Mint, err)
	}
	poolID, err := ParsePoolID(c.PoolID)
	if err != nil {
		return nil, err
	}

	monitored := programID
	if c.MonitoredAccount != "" {
		if monitored, err = solana.PublicKeyFromBase58(c.MonitoredAccount); err != nil {
			return nil, fmt.Errorf("invalid monitored account %q: %w", c.MonitoredAccount, err)
		}
	}

	pool, _, err := instructions.FindPoolAddress(programID, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive pool address: %w", err)
	}
	poolTokenAccount, _, err := solana.FindAssociatedTokenAddress(pool, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive pool token account: %w", err)
	}
	configAccount, _, err := instructions.FindConfigAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive config account: %w", err)
	}

	return &ProgramAddresses{
		ProgramID:            programID,
		PoolID:               poolID,
		Pool:                 pool,
		PoolTokenAccount:     poolTokenAccount,
		Config:               configAccount,
		TreasuryTokenAccount: treasury,
		Mint:                 mint,
		TokenProgram:         solana.TokenProgramID,
		MonitoredAccount:     monitored,
	}, nil
}

// SOLToDeposit is the whole number of SOL that covers a lamport shortfall.
func SOLToDeposit(shortfallLamports uint64) uint64 {
	return (shortfallLamports + solana.LAMPORTS_PER_SOL - 1) / solana.LAMPORTS_PER_SOL
}
