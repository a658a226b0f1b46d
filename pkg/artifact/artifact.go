// Package artifact reads and writes the commitment artifact: a JSON array of
// per-pool Merkle trees with every recipient's proof.
package artifact

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/trepa-protocol/resolution-prover/pkg/merkle"
	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

// ErrMalformedInput is returned for any artifact that cannot be parsed or
// whose contents are not self-consistent.
var ErrMalformedInput = errors.New("malformed input")

// Decode parses and validates an artifact.
func Decode(data []byte) ([]*types.GeneratedMerkleTree, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Wrap(ErrMalformedInput, "artifact is empty")
	}

	var trees []*types.GeneratedMerkleTree
	if err := json.Unmarshal(data, &trees); err != nil {
		return nil, errors.Wrap(ErrMalformedInput, err.Error())
	}

	for i, tree := range trees {
		if err := Validate(tree); err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
	}
	return trees, nil
}

// Validate checks that a tree is internally consistent: the root recomputes
// from the nodes in order and every node's proof replays to it.
func Validate(tree *types.GeneratedMerkleTree) error {
	if tree == nil {
		return errors.Wrap(ErrMalformedInput, "null tree")
	}
	if tree.Pool.IsZero() {
		return errors.Wrap(ErrMalformedInput, "missing pool_pda")
	}
	if tree.MerkleRootUploadAuthority.IsZero() {
		return errors.Wrap(ErrMalformedInput, "missing merkle_root_upload_authority")
	}
	if len(tree.TreeNodes) == 0 {
		return errors.Wrapf(ErrMalformedInput, "pool %s has no tree nodes", tree.Pool)
	}
	if tree.MaxNumNodes != uint64(len(tree.TreeNodes)) {
		return errors.Wrapf(ErrMalformedInput, "pool %s: max_num_nodes %d does not match %d tree nodes",
			tree.Pool, tree.MaxNumNodes, len(tree.TreeNodes))
	}
	for i, node := range tree.TreeNodes {
		if node == nil {
			return errors.Wrapf(ErrMalformedInput, "pool %s: null tree node %d", tree.Pool, i)
		}
		if node.Proof == nil {
			return errors.Wrapf(ErrMalformedInput, "pool %s: tree node %d has no proof", tree.Pool, i)
		}
	}

	built, err := merkle.BuildMerkleTree(tree.Leaves())
	if err != nil {
		return errors.Wrap(ErrMalformedInput, err.Error())
	}
	if built.Root != tree.MerkleRoot {
		return errors.Wrapf(ErrMalformedInput, "pool %s: merkle_root does not match tree nodes", tree.Pool)
	}

	for i, node := range tree.TreeNodes {
		if !merkle.VerifyLeaf(node.Leaf(), node.Proof, tree.MerkleRoot) {
			return errors.Wrapf(ErrMalformedInput, "pool %s: proof for tree node %d does not verify", tree.Pool, i)
		}
	}
	return nil
}

// Encode renders trees as an indented artifact.
func Encode(trees []*types.GeneratedMerkleTree) ([]byte, error) {
	if trees == nil {
		trees = []*types.GeneratedMerkleTree{}
	}
	data, err := json.MarshalIndent(trees, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode artifact")
	}
	return data, nil
}

// WriteFile encodes trees to path.
func WriteFile(path string, trees []*types.GeneratedMerkleTree) error {
	data, err := Encode(trees)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write artifact %s", path)
	}
	return nil
}

// DecodePrizeCollections parses the generate command's input: a JSON array
// of prize collections.
func DecodePrizeCollections(data []byte) ([]*types.PrizeCollection, error) {
	var collections []*types.PrizeCollection
	if err := json.Unmarshal(data, &collections); err != nil {
		return nil, errors.Wrap(ErrMalformedInput, err.Error())
	}
	for i, pc := range collections {
		if pc == nil {
			return nil, errors.Wrapf(ErrMalformedInput, "prize collection %d is null", i)
		}
		if len(pc.PrizeMetas) == 0 {
			return nil, errors.Wrapf(ErrMalformedInput, "prize collection %d for pool %s is empty", i, pc.Pool)
		}
	}
	return collections, nil
}

// Generate builds the artifact for every prize collection, in input order.
func Generate(collections []*types.PrizeCollection) ([]*types.GeneratedMerkleTree, error) {
	trees := make([]*types.GeneratedMerkleTree, 0, len(collections))
	for i, pc := range collections {
		tree, err := merkle.NewFromPrizeCollection(pc)
		if err != nil {
			return nil, errors.Wrapf(err, "prize collection %d", i)
		}
		trees = append(trees, tree)
	}
	return trees, nil
}
