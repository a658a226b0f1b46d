package testutil

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

// NewTestKeypair creates a random signing key.
func NewTestKeypair(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// NewTestPublicKey returns the public half of a fresh random key.
func NewTestPublicKey(t *testing.T) solana.PublicKey {
	t.Helper()
	return NewTestKeypair(t).PublicKey()
}

// CreateTestLeaves creates n leaves with random recipients and amounts 100, 200, ...
func CreateTestLeaves(t *testing.T, n int) []types.Leaf {
	t.Helper()
	leaves := make([]types.Leaf, n)
	for i := range leaves {
		leaves[i] = types.Leaf{Recipient: NewTestPublicKey(t), Amount: uint64(100 * (i + 1))}
	}
	return leaves
}

// NewTestTransaction builds an unsigned single instruction transaction paid
// by payer whose instruction data is payload.
func NewTestTransaction(t *testing.T, payer solana.PublicKey, payload []byte) *solana.Transaction {
	t.Helper()
	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
	}, payload)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	return tx
}
