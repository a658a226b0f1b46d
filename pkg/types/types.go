package types

import (
	"github.com/gagliardetto/solana-go"
)

// Hash is a 32 byte SHA-256 digest. It serializes to JSON as an array of
// integers, which is the format the commitment artifact uses.
type Hash = [32]byte

// Leaf is one (recipient, amount) entitlement committed to by a Merkle root.
type Leaf struct {
	Recipient solana.PublicKey
	Amount    uint64
}

// TreeNode is a leaf together with its inclusion proof. Proof is nil until
// the tree that contains the leaf has been built.
type TreeNode struct {
	Predictor   solana.PublicKey `json:"predictor"`
	PrizeAmount uint64           `json:"prize_amount"`
	Proof       []Hash           `json:"proof"`
}

// Leaf returns the (recipient, amount) pair carried by the node.
func (n *TreeNode) Leaf() Leaf {
	return Leaf{Recipient: n.Predictor, Amount: n.PrizeAmount}
}

// GeneratedMerkleTree is the commitment for a single pool: the root the upload
// authority publishes plus every node needed by recipients to claim.
type GeneratedMerkleTree struct {
	Pool                      solana.PublicKey `json:"pool_pda"`
	MerkleRootUploadAuthority solana.PublicKey `json:"merkle_root_upload_authority"`
	MerkleRoot                Hash             `json:"merkle_root"`
	TreeNodes                 []*TreeNode      `json:"tree_nodes"`
	MaxNumNodes               uint64           `json:"max_num_nodes"`
}

// Leaves returns the tree's leaves in committed order.
func (t *GeneratedMerkleTree) Leaves() []Leaf {
	leaves := make([]Leaf, len(t.TreeNodes))
	for i, node := range t.TreeNodes {
		leaves[i] = node.Leaf()
	}
	return leaves
}

// PrizeMeta is a single payout entitlement before any tree has been built.
type PrizeMeta struct {
	Predictor   solana.PublicKey `json:"predictor"`
	PrizeAmount uint64           `json:"prize_amount"`
}

// PrizeCollection is the raw input for one pool's commitment. The order of
// PrizeMetas is the order of the leaves in the resulting tree.
type PrizeCollection struct {
	MerkleRootUploadAuthority solana.PublicKey `json:"merkle_root_upload_authority"`
	PrizeMetas                []PrizeMeta      `json:"prize_metas"`
	ProgramID                 solana.PublicKey `json:"program_id"`
	Pool                      solana.PublicKey `json:"pool_pda"`
}
