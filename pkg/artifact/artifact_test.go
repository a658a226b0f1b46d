package artifact

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trepa-protocol/resolution-prover/pkg/merkle"
	"github.com/trepa-protocol/resolution-prover/pkg/testutil"
	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

func newTestTree(t *testing.T, n int) *types.GeneratedMerkleTree {
	t.Helper()
	tree, err := merkle.GenerateMerkleTree(
		testutil.NewTestPublicKey(t),
		testutil.NewTestPublicKey(t),
		testutil.CreateTestLeaves(t, n),
	)
	require.NoError(t, err)
	return tree
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	trees := []*types.GeneratedMerkleTree{newTestTree(t, 1), newTestTree(t, 5)}

	data, err := Encode(trees)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, trees, decoded)
}

func TestDecode_WireFormat(t *testing.T) {
	tree := newTestTree(t, 2)
	data, err := Encode([]*types.GeneratedMerkleTree{tree})
	require.NoError(t, err)

	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	for _, field := range []string{"pool_pda", "merkle_root_upload_authority", "merkle_root", "tree_nodes", "max_num_nodes"} {
		assert.Contains(t, raw[0], field)
	}

	var pool string
	require.NoError(t, json.Unmarshal(raw[0]["pool_pda"], &pool))
	assert.Equal(t, tree.Pool.String(), pool)

	var root []int
	require.NoError(t, json.Unmarshal(raw[0]["merkle_root"], &root))
	assert.Len(t, root, 32)
}

func TestDecode_EmptyArray(t *testing.T) {
	trees, err := Decode([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, trees)
}

func TestDecode_Malformed(t *testing.T) {
	valid := func() *types.GeneratedMerkleTree { return newTestTree(t, 3) }

	tests := []struct {
		name   string
		mutate func(tree *types.GeneratedMerkleTree)
	}{
		{"zero pool", func(tree *types.GeneratedMerkleTree) { tree.Pool = solana.PublicKey{} }},
		{"zero authority", func(tree *types.GeneratedMerkleTree) { tree.MerkleRootUploadAuthority = solana.PublicKey{} }},
		{"no nodes", func(tree *types.GeneratedMerkleTree) { tree.TreeNodes = nil; tree.MaxNumNodes = 0 }},
		{"max_num_nodes mismatch", func(tree *types.GeneratedMerkleTree) { tree.MaxNumNodes = 4 }},
		{"missing proof", func(tree *types.GeneratedMerkleTree) { tree.TreeNodes[1].Proof = nil }},
		{"wrong root", func(tree *types.GeneratedMerkleTree) { tree.MerkleRoot[0] ^= 0xff }},
		{"amount changed", func(tree *types.GeneratedMerkleTree) { tree.TreeNodes[0].PrizeAmount++ }},
		{"bad proof", func(tree *types.GeneratedMerkleTree) { tree.TreeNodes[2].Proof[0][0] ^= 0xff }},
		{"nodes reordered", func(tree *types.GeneratedMerkleTree) {
			tree.TreeNodes[0], tree.TreeNodes[2] = tree.TreeNodes[2], tree.TreeNodes[0]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := valid()
			tt.mutate(tree)

			data, err := json.Marshal([]*types.GeneratedMerkleTree{tree})
			require.NoError(t, err)

			_, err = Decode(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	for _, input := range []string{"", "   ", "{", `{"pool_pda": "x"}`, `[{"pool_pda": "not-base58!"}]`, `[null]`} {
		_, err := Decode([]byte(input))
		assert.ErrorIs(t, err, ErrMalformedInput, "input %q", input)
	}
}

func TestWriteFileAndFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merkle.json")
	trees := []*types.GeneratedMerkleTree{newTestTree(t, 4)}
	require.NoError(t, WriteFile(path, trees))

	src, err := NewSource(path, nil)
	require.NoError(t, err)

	loaded, err := src.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, trees, loaded)
}

func TestFileSource_Missing(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}
	_, err := src.Load(t.Context())
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestGenerate(t *testing.T) {
	leaves := testutil.CreateTestLeaves(t, 3)
	metas := make([]types.PrizeMeta, len(leaves))
	for i, l := range leaves {
		metas[i] = types.PrizeMeta{Predictor: l.Recipient, PrizeAmount: l.Amount}
	}
	pc := &types.PrizeCollection{
		MerkleRootUploadAuthority: testutil.NewTestPublicKey(t),
		PrizeMetas:                metas,
		ProgramID:                 testutil.NewTestPublicKey(t),
		Pool:                      testutil.NewTestPublicKey(t),
	}

	input, err := json.Marshal([]*types.PrizeCollection{pc})
	require.NoError(t, err)

	collections, err := DecodePrizeCollections(input)
	require.NoError(t, err)

	trees, err := Generate(collections)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	require.NoError(t, Validate(trees[0]))
	assert.Equal(t, pc.Pool, trees[0].Pool)
	assert.Equal(t, leaves, trees[0].Leaves())
}

func TestDecodePrizeCollections_Empty(t *testing.T) {
	_, err := DecodePrizeCollections([]byte(`[{"prize_metas": []}]`))
	assert.ErrorIs(t, err, ErrMalformedInput)
}
