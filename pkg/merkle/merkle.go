package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

const (
	// LeafPrefix is prepended to the leaf digest before the outer hash
	LeafPrefix byte = 0x00

	// IntermediatePrefix is prepended to every combined pair
	IntermediatePrefix byte = 0x01
)

// ErrEmptyTree is returned when a tree is requested for zero leaves.
var ErrEmptyTree = errors.New("cannot build merkle tree from empty leaf list")

// BuildMerkleTree creates a binary merkle tree over the given leaves.
// Leaves are hashed in the order given; the order is part of the commitment
// and is never changed here.
//
// Pairs are combined as sha256(0x01 || min(a, b) || max(a, b)) so proofs carry
// no left/right information. If there's an odd number of nodes at any level,
// the last node is duplicated.
func BuildMerkleTree(leaves []types.Leaf) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	hashed := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		hashed[i] = HashLeaf(leaf)
	}

	levels := make([][][32]byte, 0)
	levels = append(levels, hashed)

	currentLevel := hashed
	for len(currentLevel) > 1 {
		nextLevel := make([][32]byte, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			left := currentLevel[i]
			right := left
			if i+1 < len(currentLevel) {
				right = currentLevel[i+1]
			}
			nextLevel = append(nextLevel, hashIntermediate(left, right))
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		Leaves: hashed,
		Root:   currentLevel[0],
		levels: levels,
	}, nil
}

// GenerateProof returns the sibling hashes along the path from the leaf at
// leafIndex to the root, nearest sibling first.
func (mt *MerkleTree) GenerateProof(leafIndex int) ([][32]byte, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	proof := make([][32]byte, 0, mt.Depth())
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		siblingIndex := index ^ 1
		// Last node of an odd level is paired with itself
		if siblingIndex >= len(currentLevel) {
			siblingIndex = index
		}

		proof = append(proof, currentLevel[siblingIndex])
		index = index / 2
	}

	return proof, nil
}

// VerifyProof replays proof from leafHash and reports whether it reproduces root.
func VerifyProof(leafHash [32]byte, proof [][32]byte, root [32]byte) bool {
	current := leafHash
	for _, sibling := range proof {
		current = hashIntermediate(current, sibling)
	}
	return current == root
}

// VerifyLeaf hashes leaf and checks its proof against root.
func VerifyLeaf(leaf types.Leaf, proof [][32]byte, root [32]byte) bool {
	return VerifyProof(HashLeaf(leaf), proof, root)
}

// HashLeaf computes sha256(0x00 || sha256(recipient || amount_le)).
func HashLeaf(leaf types.Leaf) [32]byte {
	preimage := make([]byte, 0, solana.PublicKeyLength+8)
	preimage = append(preimage, leaf.Recipient[:]...)
	preimage = binary.LittleEndian.AppendUint64(preimage, leaf.Amount)
	inner := sha256.Sum256(preimage)

	outer := make([]byte, 0, 1+sha256.Size)
	outer = append(outer, LeafPrefix)
	outer = append(outer, inner[:]...)
	return sha256.Sum256(outer)
}

// hashIntermediate combines two nodes independent of their order.
func hashIntermediate(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	data := make([]byte, 0, 1+64)
	data = append(data, IntermediatePrefix)
	data = append(data, a[:]...)
	data = append(data, b[:]...)
	return sha256.Sum256(data)
}

// GenerateMerkleTree builds the full commitment for one pool: the root plus a
// proof for every node.
func GenerateMerkleTree(pool, authority solana.PublicKey, leaves []types.Leaf) (*types.GeneratedMerkleTree, error) {
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return nil, err
	}

	nodes := make([]*types.TreeNode, len(leaves))
	for i, leaf := range leaves {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			return nil, err
		}
		hashes := make([]types.Hash, len(proof))
		copy(hashes, proof)
		nodes[i] = &types.TreeNode{
			Predictor:   leaf.Recipient,
			PrizeAmount: leaf.Amount,
			Proof:       hashes,
		}
	}

	return &types.GeneratedMerkleTree{
		Pool:                      pool,
		MerkleRootUploadAuthority: authority,
		MerkleRoot:                tree.Root,
		TreeNodes:                 nodes,
		MaxNumNodes:               uint64(len(nodes)),
	}, nil
}

// NewFromPrizeCollection builds the commitment for the pool described by pc.
func NewFromPrizeCollection(pc *types.PrizeCollection) (*types.GeneratedMerkleTree, error) {
	if pc == nil {
		return nil, fmt.Errorf("prize collection is nil")
	}
	leaves := make([]types.Leaf, len(pc.PrizeMetas))
	for i, meta := range pc.PrizeMetas {
		leaves[i] = types.Leaf{Recipient: meta.Predictor, Amount: meta.PrizeAmount}
	}
	return GenerateMerkleTree(pc.Pool, pc.MerkleRootUploadAuthority, leaves)
}
