package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
)

const (
	keyPrefixPublication = "prover:publication:"
	keySchemaVersion     = "prover:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Redis has no prefix iteration, so pools are tracked in an index set.
	keySetPublications = "prover:publications:index"

	connectTimeout   = 5 * time.Second
	operationTimeout = 5 * time.Second
)

// RedisPersistence is a publication journal stored in Redis, for deployments
// where several uploaders share one journal.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.IPublicationStore = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "devnet:" gives
	// "devnet:prover:publication:<pool>".
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis publication journal connected",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)
	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) publicationKey(pool solana.PublicKey) string {
	return r.prefixKey(keyPrefixPublication + pool.String())
}

func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

func (r *RedisPersistence) SavePublication(p *persistence.Publication) error {
	data, err := persistence.MarshalPublication(p)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.publicationKey(p.Pool), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetPublications), p.Pool.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save publication for pool %s: %w", p.Pool, err)
	}
	return nil
}

func (r *RedisPersistence) LoadPublication(pool solana.PublicKey) (*persistence.Publication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.publicationKey(pool)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load publication for pool %s: %w", pool, err)
	}
	return persistence.UnmarshalPublication(data)
}

func (r *RedisPersistence) ListPublications() ([]*persistence.Publication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	members, err := r.client.SMembers(ctx, r.prefixKey(keySetPublications)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read publication index: %w", err)
	}

	pubs := make([]*persistence.Publication, 0, len(members))
	if len(members) == 0 {
		return pubs, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.prefixKey(keyPrefixPublication + m)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Index entry without a value: the record was removed between calls.
			continue
		}
		p, err := persistence.UnmarshalPublication([]byte(s))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal publication, skipping",
				"key", keys[i], "error", err)
			continue
		}
		pubs = append(pubs, p)
	}

	persistence.SortPublications(pubs)
	return pubs, nil
}

func (r *RedisPersistence) DeletePublication(pool solana.PublicKey) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.publicationKey(pool))
	pipe.SRem(ctx, r.prefixKey(keySetPublications), pool.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete publication for pool %s: %w", pool, err)
	}
	return nil
}

// Close closes the client. Idempotent.
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	r.logger.Sugar().Info("Redis publication journal closed")
	return nil
}

func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	exists, err := r.client.Exists(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("schema version not found - database may be corrupted")
	}
	return nil
}
