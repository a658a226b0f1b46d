// Package keystore loads the upload authority's signing key.
package keystore

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

// ErrInvalidKeypair is returned when key material cannot be parsed into a
// usable ed25519 keypair.
var ErrInvalidKeypair = errors.New("invalid keypair")

// IKMSDecrypter is the subset of the KMS API used to unwrap an encrypted
// keypair file.
type IKMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// ParseKeypairJSON parses the keygen file format: a JSON array of 64 integers
// holding the ed25519 seed followed by the public key.
func ParseKeypairJSON(data []byte) (solana.PrivateKey, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, errors.Wrap(ErrInvalidKeypair, err.Error())
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(ErrInvalidKeypair, "expected %d bytes, got %d", ed25519.PrivateKeySize, len(ints))
	}

	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, errors.Wrapf(ErrInvalidKeypair, "byte %d out of range: %d", i, v)
		}
		raw[i] = byte(v)
	}

	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !ed25519.PublicKey(derived[ed25519.SeedSize:]).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, errors.Wrap(ErrInvalidKeypair, "public key does not match seed")
	}
	return solana.PrivateKey(raw), nil
}

// LoadKeypairFile reads a keygen JSON file from disk.
func LoadKeypairFile(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read keypair file %s", path)
	}
	key, err := ParseKeypairJSON(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse keypair file %s", path)
	}
	return key, nil
}

// LoadKMSEncryptedKeypair reads a KMS ciphertext blob from path, decrypts it
// and parses the plaintext as a keygen JSON document. keyID may be empty for
// symmetric keys, in which case KMS infers it from the ciphertext.
func LoadKMSEncryptedKeypair(ctx context.Context, client IKMSDecrypter, path string, keyID string) (solana.PrivateKey, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read encrypted keypair file %s", path)
	}

	input := &kms.DecryptInput{CiphertextBlob: ciphertext}
	if keyID != "" {
		input.KeyId = aws.String(keyID)
	}
	out, err := client.Decrypt(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt keypair with KMS")
	}

	key, err := ParseKeypairJSON(out.Plaintext)
	for i := range out.Plaintext {
		out.Plaintext[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("decrypted keypair: %w", err)
	}
	return key, nil
}
