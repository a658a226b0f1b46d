package merkle

// MerkleTree represents a binary merkle tree built over payout leaves.
// The tree uses SHA-256 with domain separated leaf and intermediate hashes.
type MerkleTree struct {
	// Leaves contains the leaf hashes in committed order
	Leaves [][32]byte

	// Root is the merkle root hash
	Root [32]byte

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][][32]byte
}

// Depth returns the number of proof elements each leaf needs.
func (mt *MerkleTree) Depth() int {
	return len(mt.levels) - 1
}
