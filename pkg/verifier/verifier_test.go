package verifier

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trepa-protocol/resolution-prover/pkg/merkle"
	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

func randomKey() solana.PublicKey {
	var key solana.PublicKey
	_, _ = rand.Read(key[:])
	return key
}

type transferRecord struct {
	recipient solana.PublicKey
	amount    uint64
}

func setupFinalizedPool(t *testing.T, amounts ...uint64) (*Ledger, solana.PublicKey, *types.GeneratedMerkleTree, *[]transferRecord) {
	t.Helper()

	leaves := make([]types.Leaf, len(amounts))
	var escrow uint64
	for i, amount := range amounts {
		leaves[i] = types.Leaf{Recipient: randomKey(), Amount: amount}
		escrow += amount
	}

	pool := randomKey()
	authority := randomKey()
	tree, err := merkle.GenerateMerkleTree(pool, authority, leaves)
	require.NoError(t, err)

	transfers := &[]transferRecord{}
	ledger := NewLedger(func(_, recipient solana.PublicKey, amount uint64) error {
		*transfers = append(*transfers, transferRecord{recipient: recipient, amount: amount})
		return nil
	})
	ledger.OpenPool(pool, authority, escrow+10)
	require.NoError(t, ledger.ResolvePool(pool))
	require.NoError(t, ledger.PublishCommitment(pool, authority, tree.MerkleRoot, 10))
	return ledger, pool, tree, transfers
}

func TestCheckClaim(t *testing.T) {
	leaves := []types.Leaf{
		{Recipient: randomKey(), Amount: 100},
		{Recipient: randomKey(), Amount: 200},
		{Recipient: randomKey(), Amount: 300},
	}
	tree, err := merkle.GenerateMerkleTree(randomKey(), randomKey(), leaves)
	require.NoError(t, err)

	b := tree.TreeNodes[1]
	require.NoError(t, CheckClaim(tree.MerkleRoot, b.Predictor, 200, b.Proof))
	require.ErrorIs(t, CheckClaim(tree.MerkleRoot, b.Predictor, 201, b.Proof), ErrInvalidProof)
	require.ErrorIs(t, CheckClaim(tree.MerkleRoot, randomKey(), 200, b.Proof), ErrInvalidProof)
}

func TestLedgerClaimLifecycle(t *testing.T) {
	ledger, pool, tree, transfers := setupFinalizedPool(t, 100, 200, 300)

	node := tree.TreeNodes[1]
	require.NoError(t, ledger.Claim(pool, node.Predictor, node.PrizeAmount, node.Proof))
	require.Len(t, *transfers, 1)
	assert.Equal(t, node.Predictor, (*transfers)[0].recipient)
	assert.Equal(t, uint64(200), (*transfers)[0].amount)

	t.Run("second claim is rejected", func(t *testing.T) {
		err := ledger.Claim(pool, node.Predictor, node.PrizeAmount, node.Proof)
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		require.Len(t, *transfers, 1)
	})

	t.Run("inflated amount is rejected", func(t *testing.T) {
		other := tree.TreeNodes[2]
		err := ledger.Claim(pool, other.Predictor, other.PrizeAmount+1, other.Proof)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("escrow tracks transfers and fee", func(t *testing.T) {
		state, ok := ledger.Pool(pool)
		require.True(t, ok)
		assert.Equal(t, uint64(400), state.Escrow)
		assert.Equal(t, tree.MerkleRoot, state.Root)
	})
}

func TestLedgerPublishCommitment(t *testing.T) {
	pool := randomKey()
	authority := randomKey()
	ledger := NewLedger(nil)

	require.ErrorIs(t, ledger.PublishCommitment(pool, authority, types.Hash{1}, 0), ErrPoolNotFound)

	ledger.OpenPool(pool, authority, 1000)
	require.ErrorIs(t, ledger.PublishCommitment(pool, authority, types.Hash{1}, 0), ErrPoolNotResolved)
	require.ErrorIs(t, ledger.Claim(pool, randomKey(), 1, nil), ErrPoolNotFinalized)

	require.NoError(t, ledger.ResolvePool(pool))
	require.ErrorIs(t, ledger.PublishCommitment(pool, randomKey(), types.Hash{1}, 0), ErrUnauthorized)
	require.ErrorIs(t, ledger.PublishCommitment(pool, authority, types.Hash{1}, 2000), ErrInsufficientEscrow)
	require.NoError(t, ledger.PublishCommitment(pool, authority, types.Hash{1}, 0))
	require.ErrorIs(t, ledger.PublishCommitment(pool, authority, types.Hash{2}, 0), ErrPoolFinalized)
}

func TestLedgerTransferFailureLeavesLeafClaimable(t *testing.T) {
	leaves := []types.Leaf{{Recipient: randomKey(), Amount: 50}}
	pool, authority := randomKey(), randomKey()
	tree, err := merkle.GenerateMerkleTree(pool, authority, leaves)
	require.NoError(t, err)

	fail := true
	ledger := NewLedger(func(_, _ solana.PublicKey, _ uint64) error {
		if fail {
			return errors.New("token program unavailable")
		}
		return nil
	})
	ledger.OpenPool(pool, authority, 50)
	require.NoError(t, ledger.ResolvePool(pool))
	require.NoError(t, ledger.PublishCommitment(pool, authority, tree.MerkleRoot, 0))

	node := tree.TreeNodes[0]
	require.Error(t, ledger.Claim(pool, node.Predictor, node.PrizeAmount, node.Proof))

	fail = false
	require.NoError(t, ledger.Claim(pool, node.Predictor, node.PrizeAmount, node.Proof))
}

func TestClaimBatch(t *testing.T) {
	ledger, pool, tree, transfers := setupFinalizedPool(t, 10, 20, 30, 40)

	t.Run("reference count must match requests", func(t *testing.T) {
		refs := NewAccountRefs(tree.TreeNodes[0].Predictor)
		_, err := ledger.ClaimBatch(pool, refs, []ClaimRequest{{Amount: 10}, {Amount: 20}})
		require.ErrorIs(t, err, ErrAccountMismatch)
		require.Empty(t, *transfers)
	})

	t.Run("mixed results", func(t *testing.T) {
		refs := NewAccountRefs(tree.TreeNodes[0].Predictor, tree.TreeNodes[1].Predictor, tree.TreeNodes[2].Predictor)
		results, err := ledger.ClaimBatch(pool, refs, []ClaimRequest{
			{Amount: 10, Proof: tree.TreeNodes[0].Proof},
			{Amount: 999, Proof: tree.TreeNodes[1].Proof},
			{Amount: 30, Proof: tree.TreeNodes[2].Proof},
		})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.NoError(t, results[0])
		assert.ErrorIs(t, results[1], ErrInvalidProof)
		assert.NoError(t, results[2])
		assert.Len(t, *transfers, 2)
	})
}

func TestAccountRefs(t *testing.T) {
	refs := NewAccountRefs(randomKey(), randomKey())

	_, err := refs.At(0)
	require.ErrorIs(t, err, ErrAccountMismatch, "reads before Expect are rejected")

	require.ErrorIs(t, refs.Expect(3), ErrAccountMismatch)
	require.NoError(t, refs.Expect(2))

	_, err = refs.At(1)
	require.NoError(t, err)
	_, err = refs.At(2)
	require.ErrorIs(t, err, ErrAccountMismatch)
	require.Equal(t, 2, refs.Len())
}
