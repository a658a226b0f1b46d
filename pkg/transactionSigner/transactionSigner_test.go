package transactionSigner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/testutil"
)

func TestKeypairSigner(t *testing.T) {
	key := testutil.NewTestKeypair(t)
	signer, err := NewKeypairSigner(key, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), signer.PublicKey())

	tx := testutil.NewTestTransaction(t, signer.PublicKey(), []byte("payload"))

	tx.Message.RecentBlockhash = solana.Hash{1}
	require.NoError(t, signer.SignTransaction(tx))
	require.Len(t, tx.Signatures, 1)
	require.NoError(t, tx.VerifySignatures())
	first := tx.Signatures[0]

	t.Run("re-signing for a new blockhash replaces the signature", func(t *testing.T) {
		tx.Message.RecentBlockhash = solana.Hash{2}
		require.NoError(t, signer.SignTransaction(tx))
		require.Len(t, tx.Signatures, 1)
		require.NotEqual(t, first, tx.Signatures[0])
		require.NoError(t, tx.VerifySignatures())
	})

	t.Run("foreign payer cannot be signed", func(t *testing.T) {
		other := testutil.NewTestTransaction(t, testutil.NewTestPublicKey(t), []byte("payload"))
		require.Error(t, signer.SignTransaction(other))
	})

	_, err = NewKeypairSigner(nil, zap.NewNop())
	require.Error(t, err)
}

func TestFileSignerSource(t *testing.T) {
	key := testutil.NewTestKeypair(t)
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	source, err := NewFileSignerSource(&SignerConfig{KeypairPath: path}, nil, zap.NewNop())
	require.NoError(t, err)

	signer, err := source.LoadSigner(context.Background())
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), signer.PublicKey())

	_, err = NewFileSignerSource(&SignerConfig{KeypairPath: path, KMSEncrypted: true}, nil, zap.NewNop())
	require.Error(t, err)
	_, err = NewFileSignerSource(&SignerConfig{}, nil, zap.NewNop())
	require.Error(t, err)
}
