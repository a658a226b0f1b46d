package merkle

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

// createTestLeaves creates n leaves with random recipients and distinct amounts
func createTestLeaves(n int) []types.Leaf {
	leaves := make([]types.Leaf, n)
	for i := 0; i < n; i++ {
		leaves[i] = types.Leaf{
			Recipient: randomKey(),
			Amount:    uint64(100 * (i + 1)),
		}
	}
	return leaves
}

func randomKey() solana.PublicKey {
	var key solana.PublicKey
	_, _ = rand.Read(key[:])
	return key
}

// TestBuildMerkleTree tests merkle tree construction with various numbers of leaves
func TestBuildMerkleTree(t *testing.T) {
	testCases := []struct {
		name      string
		numLeaves int
		depth     int
	}{
		{"Single leaf", 1, 0},
		{"Two leaves", 2, 1},
		{"Three leaves", 3, 2},
		{"Four leaves (power of 2)", 4, 2},
		{"Seven leaves", 7, 3},
		{"Eight leaves (power of 2)", 8, 3},
		{"Fifteen leaves", 15, 4},
		{"Sixteen leaves (power of 2)", 16, 4},
		{"Seventeen leaves", 17, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			leaves := createTestLeaves(tc.numLeaves)
			tree, err := BuildMerkleTree(leaves)
			require.NoError(t, err)
			require.NotNil(t, tree)

			require.Equal(t, tc.numLeaves, len(tree.Leaves))
			require.Equal(t, tc.depth, tree.Depth())
			require.NotEqual(t, [32]byte{}, tree.Root)

			for i := 0; i < tc.numLeaves; i++ {
				proof, err := tree.GenerateProof(i)
				require.NoError(t, err)
				require.Len(t, proof, tc.depth)
				require.True(t, VerifyLeaf(leaves[i], proof, tree.Root), "Proof for leaf %d should be valid", i)
			}
		})
	}
}

func TestBuildMerkleTreeEmpty(t *testing.T) {
	tree, err := BuildMerkleTree([]types.Leaf{})
	require.ErrorIs(t, err, ErrEmptyTree)
	require.Nil(t, tree)
	require.Contains(t, err.Error(), "empty")

	_, err = GenerateMerkleTree(randomKey(), randomKey(), nil)
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestSingleLeafRootIsLeafHash(t *testing.T) {
	leaf := types.Leaf{Recipient: randomKey(), Amount: 42}
	tree, err := BuildMerkleTree([]types.Leaf{leaf})
	require.NoError(t, err)
	require.Equal(t, HashLeaf(leaf), tree.Root)

	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	require.Empty(t, proof)
	require.True(t, VerifyLeaf(leaf, proof, tree.Root))
}

// TestThreeLeafScenario covers the canonical A/B/C payout example
func TestThreeLeafScenario(t *testing.T) {
	a := types.Leaf{Recipient: randomKey(), Amount: 100}
	b := types.Leaf{Recipient: randomKey(), Amount: 200}
	c := types.Leaf{Recipient: randomKey(), Amount: 300}

	tree, err := BuildMerkleTree([]types.Leaf{a, b, c})
	require.NoError(t, err)

	proofB, err := tree.GenerateProof(1)
	require.NoError(t, err)
	require.Len(t, proofB, 2)
	require.Equal(t, HashLeaf(a), proofB[0])
	require.True(t, VerifyLeaf(b, proofB, tree.Root))

	inflated := b
	inflated.Amount = 201
	require.False(t, VerifyLeaf(inflated, proofB, tree.Root))

	// C is paired with itself on the first level
	proofC, err := tree.GenerateProof(2)
	require.NoError(t, err)
	require.Equal(t, HashLeaf(c), proofC[0])
	require.True(t, VerifyLeaf(c, proofC, tree.Root))
}

func TestBuildMerkleTreeDeterministic(t *testing.T) {
	leaves := createTestLeaves(9)

	tree1, err := BuildMerkleTree(leaves)
	require.NoError(t, err)
	tree2, err := BuildMerkleTree(leaves)
	require.NoError(t, err)
	require.Equal(t, tree1.Root, tree2.Root)

	t.Run("order is part of the commitment", func(t *testing.T) {
		reordered := make([]types.Leaf, len(leaves))
		copy(reordered, leaves)
		reordered[0], reordered[len(reordered)-1] = reordered[len(reordered)-1], reordered[0]

		tree3, err := BuildMerkleTree(reordered)
		require.NoError(t, err)
		require.NotEqual(t, tree1.Root, tree3.Root)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		snapshot := make([]types.Leaf, len(leaves))
		copy(snapshot, leaves)
		_, err := BuildMerkleTree(leaves)
		require.NoError(t, err)
		require.Equal(t, snapshot, leaves)
	})
}

// TestTamperedLeafOnlyBreaksItsOwnProof changes one leaf at a time and replays
// every stored proof against the original root
func TestTamperedLeafOnlyBreaksItsOwnProof(t *testing.T) {
	leaves := createTestLeaves(6)
	generated, err := GenerateMerkleTree(randomKey(), randomKey(), leaves)
	require.NoError(t, err)

	for tampered := range leaves {
		for i, node := range generated.TreeNodes {
			leaf := node.Leaf()
			if i == tampered {
				leaf.Amount++
			}
			require.Equal(t, i != tampered, VerifyLeaf(leaf, node.Proof, generated.MerkleRoot),
				"tampered=%d leaf=%d", tampered, i)
		}
	}
}

// TestMerkleProofVerification tests proof verification with valid and invalid cases
func TestMerkleProofVerification(t *testing.T) {
	leaves := createTestLeaves(4)
	tree, err := BuildMerkleTree(leaves)
	require.NoError(t, err)

	t.Run("Valid proof", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)
		require.True(t, VerifyProof(tree.Leaves[0], proof, tree.Root))
	})

	t.Run("Invalid proof - wrong root", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)
		require.False(t, VerifyProof(tree.Leaves[0], proof, [32]byte{1, 2, 3, 4, 5}))
	})

	t.Run("Invalid proof - wrong recipient", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)
		other := types.Leaf{Recipient: randomKey(), Amount: leaves[0].Amount}
		require.False(t, VerifyLeaf(other, proof, tree.Root))
	})

	t.Run("Invalid proof - tampered sibling", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)
		proof[0][0] ^= 0xFF
		require.False(t, VerifyProof(tree.Leaves[0], proof, tree.Root))
	})

	t.Run("Invalid proof - truncated", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)
		require.False(t, VerifyProof(tree.Leaves[0], proof[:1], tree.Root))
	})

	t.Run("Invalid proof - nil proof", func(t *testing.T) {
		require.False(t, VerifyProof(tree.Leaves[0], nil, tree.Root))
	})
}

// TestGenerateProofInvalidIndex tests proof generation with invalid indices
func TestGenerateProofInvalidIndex(t *testing.T) {
	tree, err := BuildMerkleTree(createTestLeaves(4))
	require.NoError(t, err)

	t.Run("Negative index", func(t *testing.T) {
		proof, err := tree.GenerateProof(-1)
		require.Error(t, err)
		require.Nil(t, proof)
	})

	t.Run("Index out of bounds", func(t *testing.T) {
		proof, err := tree.GenerateProof(10)
		require.Error(t, err)
		require.Nil(t, proof)
	})
}

func TestHashLeaf(t *testing.T) {
	leaf := types.Leaf{Recipient: solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"), Amount: 1_000_000}

	preimage := append(leaf.Recipient.Bytes(), make([]byte, 8)...)
	binary.LittleEndian.PutUint64(preimage[32:], leaf.Amount)
	inner := sha256.Sum256(preimage)
	expected := sha256.Sum256(append([]byte{0x00}, inner[:]...))

	require.Equal(t, expected, HashLeaf(leaf))

	changed := leaf
	changed.Amount++
	require.NotEqual(t, HashLeaf(leaf), HashLeaf(changed))
}

func TestHashIntermediateIsCommutative(t *testing.T) {
	a := HashLeaf(types.Leaf{Recipient: randomKey(), Amount: 1})
	b := HashLeaf(types.Leaf{Recipient: randomKey(), Amount: 2})
	require.Equal(t, hashIntermediate(a, b), hashIntermediate(b, a))
	require.NotEqual(t, hashIntermediate(a, b), hashIntermediate(a, a))
}

func TestNewFromPrizeCollection(t *testing.T) {
	pc := &types.PrizeCollection{
		MerkleRootUploadAuthority: randomKey(),
		ProgramID:                 randomKey(),
		Pool:                      randomKey(),
		PrizeMetas: []types.PrizeMeta{
			{Predictor: randomKey(), PrizeAmount: 10},
			{Predictor: randomKey(), PrizeAmount: 20},
			{Predictor: randomKey(), PrizeAmount: 30},
		},
	}

	generated, err := NewFromPrizeCollection(pc)
	require.NoError(t, err)
	require.Equal(t, pc.Pool, generated.Pool)
	require.Equal(t, pc.MerkleRootUploadAuthority, generated.MerkleRootUploadAuthority)
	require.Equal(t, uint64(3), generated.MaxNumNodes)

	for i, node := range generated.TreeNodes {
		require.Equal(t, pc.PrizeMetas[i].Predictor, node.Predictor)
		require.NotNil(t, node.Proof)
		require.True(t, VerifyLeaf(node.Leaf(), node.Proof, generated.MerkleRoot))
	}

	_, err = NewFromPrizeCollection(nil)
	require.Error(t, err)
}
