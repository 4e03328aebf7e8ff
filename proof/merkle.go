package proof

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	merkletools "github.com/chainpoint/merkletools-go"
)

// hashPair : Bitcoin's double sha256 combine of two internal byte order hashes
func hashPair(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// ComputeRoot folds the sibling path into txID. Bit i of index set means the level i sibling is on the left.
func ComputeRoot(txID chainhash.Hash, path []chainhash.Hash, index uint32) (chainhash.Hash, error) {
	if len(path) < 32 && index>>uint(len(path)) != 0 {
		return chainhash.Hash{}, fmt.Errorf("index %d does not fit a path of %d levels", index, len(path))
	}
	current := txID
	for level := range path {
		sibling := path[level]
		if (index>>uint(level))&1 == 1 {
			current = hashPair(&sibling, &current)
		} else {
			current = hashPair(&current, &sibling)
		}
	}
	return current, nil
}

// ParsePath decodes display hex sibling hashes
func ParsePath(path []string) ([]chainhash.Hash, error) {
	hashes := make([]chainhash.Hash, 0, len(path))
	for _, s := range path {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, *h)
	}
	return hashes, nil
}

// BuildPath : display hex sibling path of the tx at index in a block, for building payment proofs
func BuildPath(txIDs []chainhash.Hash, index int) ([]string, error) {
	if index < 0 || index >= len(txIDs) {
		return nil, errors.New("tx index out of range")
	}
	var tree merkletools.MerkleTree
	for _, id := range txIDs {
		tree.AddLeaf(id.CloneBytes())
	}
	tree.MakeBTCTree()
	steps := tree.GetProof(index)
	path := make([]string, 0, len(steps))
	for _, step := range steps {
		h, err := chainhash.NewHash(step.Value)
		if err != nil {
			return nil, err
		}
		path = append(path, h.String())
	}
	return path, nil
}
