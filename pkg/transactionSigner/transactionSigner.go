package transactionSigner

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/keystore"
)

// ITransactionSigner signs ledger transactions with the upload authority key
type ITransactionSigner interface {
	// PublicKey returns the key transactions are signed with
	PublicKey() solana.PublicKey

	// SignTransaction replaces tx's signatures with fresh ones over its
	// current message, including its current recent blockhash
	SignTransaction(tx *solana.Transaction) error
}

// ISignerSource produces a signer. It is called once per workflow invocation
// so key material is only held in memory while it is needed.
type ISignerSource interface {
	LoadSigner(ctx context.Context) (ITransactionSigner, error)
}

type SignerConfig struct {
	// KeypairPath is a keygen JSON file, or a KMS ciphertext when KMSKeyID is set
	KeypairPath string `json:"keypairPath" yaml:"keypairPath"`

	// KMSEncrypted marks KeypairPath as a KMS ciphertext blob
	KMSEncrypted bool   `json:"kmsEncrypted" yaml:"kmsEncrypted"`
	KMSKeyID     string `json:"kmsKeyId" yaml:"kmsKeyId"`
}

// KeypairSigner signs with an in-memory ed25519 key.
type KeypairSigner struct {
	key    solana.PrivateKey
	pubKey solana.PublicKey
	logger *zap.Logger
}

func NewKeypairSigner(key solana.PrivateKey, logger *zap.Logger) (*KeypairSigner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("private key cannot be empty")
	}
	return &KeypairSigner{
		key:    key,
		pubKey: key.PublicKey(),
		logger: logger,
	}, nil
}

func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.pubKey
}

func (s *KeypairSigner) SignTransaction(tx *solana.Transaction) error {
	tx.Signatures = nil
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.pubKey) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// FileSignerSource loads the key from disk, decrypting it with KMS when
// configured to.
type FileSignerSource struct {
	config *SignerConfig
	kms    keystore.IKMSDecrypter
	logger *zap.Logger
}

var _ ISignerSource = (*FileSignerSource)(nil)

func NewFileSignerSource(cfg *SignerConfig, kmsClient keystore.IKMSDecrypter, logger *zap.Logger) (*FileSignerSource, error) {
	if cfg == nil || cfg.KeypairPath == "" {
		return nil, fmt.Errorf("keypair path cannot be empty")
	}
	if cfg.KMSEncrypted && kmsClient == nil {
		return nil, fmt.Errorf("kms client is required for an encrypted keypair")
	}
	return &FileSignerSource{config: cfg, kms: kmsClient, logger: logger}, nil
}

func (f *FileSignerSource) LoadSigner(ctx context.Context) (ITransactionSigner, error) {
	var (
		key solana.PrivateKey
		err error
	)
	if f.config.KMSEncrypted {
		key, err = keystore.LoadKMSEncryptedKeypair(ctx, f.kms, f.config.KeypairPath, f.config.KMSKeyID)
	} else {
		key, err = keystore.LoadKeypairFile(f.config.KeypairPath)
	}
	if err != nil {
		return nil, err
	}

	f.logger.Sugar().Debugw("Loaded signing key",
		"publicKey", key.PublicKey().String(),
		"kmsEncrypted", f.config.KMSEncrypted,
	)
	return NewKeypairSigner(key, f.logger)
}

// StaticSignerSource always returns the same signer.
type StaticSignerSource struct {
	Signer ITransactionSigner
}

func (s StaticSignerSource) LoadSigner(context.Context) (ITransactionSigner, error) {
	if s.Signer == nil {
		return nil, fmt.Errorf("no signer configured")
	}
	return s.Signer, nil
}
