package receipts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/compas-dev/compas/pkg/canonicalize"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// leafDomainSeparator and nodeDomainSeparator prefix leaf/internal-node
// hashes so a leaf hash can never be replayed as a node hash or vice
// versa. Grounded on the teacher's merkle-v1 profile
// (executor/merkle.go): leaf_hash = sha256(0x00||data), node_hash =
// sha256(0x01||left||right).
var (
	leafDomainSeparator = []byte{0x00}
	nodeDomainSeparator = []byte{0x01}
)

// ReceiptsMerkleTree commits to the ordered receipt list of one gate run.
// This is deliberately separate from the witness hash-chain, which stays
// linear and append-only by design — this tree lives inside a single
// gate run's evidence, giving a caller the ability to prove one tool's
// receipt was part of the run without disclosing the others.
type ReceiptsMerkleTree struct {
	root   []byte
	leaves [][]byte // leaf hashes, in receipt order
	levels [][][]byte
}

// BuildReceiptsMerkle hashes each receipt with canonicalize.JCS (the same
// deterministic encoding used for config/witness hashing elsewhere in
// this module) and folds the leaves into a binary tree, promoting an odd
// trailing node unhashed rather than duplicating it.
func BuildReceiptsMerkle(receiptList []gatetypes.Receipt) (*ReceiptsMerkleTree, error) {
	if len(receiptList) == 0 {
		return nil, fmt.Errorf("receipts: cannot build a merkle tree over zero receipts")
	}

	leaves := make([][]byte, len(receiptList))
	for i, r := range receiptList {
		data, err := canonicalize.JCS(r)
		if err != nil {
			return nil, fmt.Errorf("receipts: canonicalize receipt %d: %w", i, err)
		}
		leaves[i] = leafHash(data)
	}

	levels := [][][]byte{leaves}
	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, nodeHash(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
		levels = append(levels, level)
	}

	return &ReceiptsMerkleTree{root: level[0], leaves: leaves, levels: levels}, nil
}

func leafHash(data []byte) []byte {
	h := sha256.New()
	h.Write(leafDomainSeparator)
	h.Write(data)
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(nodeDomainSeparator)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// RootHex returns the tree's root hash, hex-encoded.
func (t *ReceiptsMerkleTree) RootHex() string {
	return hex.EncodeToString(t.root)
}

// ReceiptProof is an inclusion proof that the receipt at Index was
// committed to by Root.
type ReceiptProof struct {
	Index    int      `json:"index"`
	LeafHash string   `json:"leaf_hash"`
	Siblings []Sibling `json:"siblings"`
	Root     string   `json:"root"`
}

// Sibling is one step of a ReceiptProof's authentication path.
type Sibling struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" or "right"
}

// Proof generates an inclusion proof for the receipt at index.
func (t *ReceiptsMerkleTree) Proof(index int) (*ReceiptProof, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("receipts: leaf index %d out of range [0,%d)", index, len(t.leaves))
	}

	proof := &ReceiptProof{Index: index, LeafHash: hex.EncodeToString(t.leaves[index]), Root: t.RootHex()}

	idx := index
	for levelNum := 0; levelNum < len(t.levels)-1; levelNum++ {
		level := t.levels[levelNum]
		var siblingIdx int
		var position string
		if idx%2 == 0 {
			siblingIdx, position = idx+1, "right"
		} else {
			siblingIdx, position = idx-1, "left"
		}
		if siblingIdx < len(level) {
			proof.Siblings = append(proof.Siblings, Sibling{Hash: hex.EncodeToString(level[siblingIdx]), Position: position})
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyReceiptProof recomputes the authentication path and reports
// whether it reaches proof.Root.
func VerifyReceiptProof(proof ReceiptProof) (bool, error) {
	current, err := hex.DecodeString(proof.LeafHash)
	if err != nil {
		return false, fmt.Errorf("receipts: invalid leaf hash: %w", err)
	}
	for _, s := range proof.Siblings {
		sibling, err := hex.DecodeString(s.Hash)
		if err != nil {
			return false, fmt.Errorf("receipts: invalid sibling hash: %w", err)
		}
		if s.Position == "left" {
			current = nodeHash(sibling, current)
		} else {
			current = nodeHash(current, sibling)
		}
	}
	root, err := hex.DecodeString(proof.Root)
	if err != nil {
		return false, fmt.Errorf("receipts: invalid root hash: %w", err)
	}
	return bytes.Equal(current, root), nil
}
