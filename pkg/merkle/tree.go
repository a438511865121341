// Copyright 2025 Certen Protocol
//
// Append-only Merkle tree compatible with the OpenZeppelin JavaScript
// "standard Merkle tree": pair-hashing is commutative, which removes the
// need to transmit sibling positions in proofs. The reference hasher is
// Keccak-256.

package merkle

import (
	"bytes"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrEmptyTree is returned by Root and Proof when no elements have ever
// been appended.
var ErrEmptyTree = errors.New("merkle: tree is empty")

// ErrElementNotFound is returned by Proof when the requested element's
// hash is not present in the tree.
var ErrElementNotFound = errors.New("merkle: element not found")

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

// HashElement hashes an arbitrary byte string with the tree's hasher.
func HashElement(element []byte) Hash {
	var h Hash
	copy(h[:], crypto.Keccak256(element))
	return h
}

// Tree is a generic, append-only Merkle tree. Two buffers back it: nodes
// (all hashes up to the last computed level) and leaves (hashes of
// elements appended since the last recompute). The tree is valid when
// leaves is empty and nodes is non-empty; Append invalidates it, and
// Root/Proof recompute lazily.
//
// Tree is safe for concurrent use; callers that need a frozen, read-only
// view for serving proofs repeatedly should prefer Snapshot, which avoids
// repeated locking and recomputation on every read.
type Tree struct {
	mu     sync.Mutex
	nodes  []Hash
	leaves []Hash
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Append hashes element and stages it for inclusion in the tree. It does
// not touch nodes; the tree is recomputed lazily on the next Root or
// Proof call.
func (t *Tree) Append(element []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves = append(t.leaves, HashElement(element))
}

// isRootValid reports whether nodes reflects every appended leaf. Caller
// must hold t.mu.
func (t *Tree) isRootValid() bool {
	return len(t.leaves) == 0 && len(t.nodes) > 0
}

// compute folds pending leaves into nodes. Caller must hold t.mu.
func (t *Tree) compute() {
	if !t.isRootValid() {
		// Drop stale interior nodes, keeping only the leaf level, then
		// fold in everything appended since the last compute.
		leafCount := (len(t.nodes) + 1) / 2
		t.nodes = append(t.nodes[:leafCount:leafCount], t.leaves...)
		t.leaves = nil
	}

	l := len(t.nodes)
	if l < 2 {
		return
	}

	start, end := 0, l
	oddItemIndex := -1
	for {
		span := end - start
		for i := 0; i < span/2; i++ {
			t.nodes = append(t.nodes, pairHash(t.nodes[start+2*i], t.nodes[start+2*i+1]))
		}
		if span%2 == 1 && oddItemIndex < 0 {
			oddItemIndex = end - 1
		}
		if span <= 2 {
			if oddItemIndex >= 0 {
				last := t.nodes[len(t.nodes)-1]
				t.nodes = append(t.nodes, pairHash(last, t.nodes[oddItemIndex]))
			}
			return
		}
		start = end
		end = len(t.nodes)
	}
}

// pairHash combines two hashes commutatively: H(min(a,b) || max(a,b)).
func pairHash(a, b Hash) Hash {
	var lo, hi Hash
	if bytes.Compare(a[:], b[:]) <= 0 {
		lo, hi = a, b
	} else {
		lo, hi = b, a
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, lo[:]...)
	buf = append(buf, hi[:]...)
	return HashElement(buf)
}

// Root returns the current Merkle root, recomputing from any pending
// appends first. Returns ErrEmptyTree if nothing has ever been appended.
func (t *Tree) Root() (Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isRootValid() {
		t.compute()
	}
	if len(t.nodes) == 0 {
		return Hash{}, ErrEmptyTree
	}
	return t.nodes[len(t.nodes)-1], nil
}

// Proof returns the sibling hashes, ordered leaf-to-root, for the given
// element. Returns ErrElementNotFound if the element's hash is not a leaf
// of the tree.
//
// This implements the odd-level rebalancing rule required to match the
// OpenZeppelin proof shape for trees whose leaf count is not a power of
// two: odd-sized levels are rebalanced only every other odd occurrence,
// tracked via oddLevelsCount/oddElementIndex/oddElementRebalance below.
func (t *Tree) Proof(element []byte) ([]Hash, error) {
	return t.ProofForHash(HashElement(element))
}

// ProofForHash is Proof for a caller that already holds the leaf's hash.
func (t *Tree) ProofForHash(leaf Hash) ([]Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isRootValid() {
		t.compute()
	}
	return proofFromNodes(t.nodes, leaf)
}

// proofFromNodes walks the node buffer of a fully computed tree and
// collects the sibling path for leaf.
func proofFromNodes(nodes []Hash, leaf Hash) ([]Hash, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyTree
	}

	itemCursor := -1
	nLeaves := (len(nodes) + 1) / 2
	for i := 0; i < nLeaves; i++ {
		if nodes[i] == leaf {
			itemCursor = i
			break
		}
	}
	if itemCursor < 0 {
		return nil, ErrElementNotFound
	}

	depth := 0
	for n := nLeaves; n > 1; n = (n + 1) / 2 {
		depth++
	}

	var proof []Hash
	start, end := 0, nLeaves
	itemIndex := start + itemCursor
	oddLevelsCount := 0
	oddElementIndex := 0
	oddElementRebalance := 0

	for level := 0; level < depth; level++ {
		if (end-start)%2 == 1 {
			oddLevelsCount++
			if oddLevelsCount%2 == 0 {
				oddElementRebalance = 1
			} else {
				oddElementIndex = end - 1
			}
		}

		switch {
		case itemCursor%2 == 1:
			proof = append(proof, nodes[itemIndex-1])
		case itemIndex < end-1:
			proof = append(proof, nodes[itemIndex+1])
		case oddLevelsCount%2 == 0:
			proof = append(proof, nodes[oddElementIndex])
		}

		nNextLevel := (end - start) / 2
		start = end
		end = end + nNextLevel + oddElementRebalance
		oddElementRebalance = 0
		itemCursor /= 2
		itemIndex = start + itemCursor
	}

	return proof, nil
}

// Snapshot returns a frozen, read-only view of the tree's current
// contents. The snapshot recomputes pending appends once, copies the
// node buffer, and thereafter serves Root and Proof without locking;
// later appends to the live tree do not affect it.
func (t *Tree) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isRootValid() {
		t.compute()
	}
	return &Snapshot{nodes: append([]Hash(nil), t.nodes...)}
}

// Snapshot is an immutable view of a Tree, safe for concurrent reads.
type Snapshot struct {
	nodes []Hash
}

// Root returns the snapshot's Merkle root, or ErrEmptyTree.
func (s *Snapshot) Root() (Hash, error) {
	if len(s.nodes) == 0 {
		return Hash{}, ErrEmptyTree
	}
	return s.nodes[len(s.nodes)-1], nil
}

// Proof returns the sibling hashes for element, ordered leaf-to-root.
func (s *Snapshot) Proof(element []byte) ([]Hash, error) {
	return s.ProofForHash(HashElement(element))
}

// ProofForHash is Proof for a caller that already holds the leaf's hash.
func (s *Snapshot) ProofForHash(leaf Hash) ([]Hash, error) {
	return proofFromNodes(s.nodes, leaf)
}

// VerifyFromRoot re-hashes element and folds it through proof using
// commutative pairing, reporting whether the result equals root. An empty
// proof is valid iff root equals H(element) (single-leaf tree).
func VerifyFromRoot(root Hash, element []byte, proof []Hash) bool {
	return VerifyHashFromRoot(root, HashElement(element), proof)
}

// VerifyHashFromRoot is VerifyFromRoot for a caller that already holds the
// leaf's hash.
func VerifyHashFromRoot(root, leaf Hash, proof []Hash) bool {
	if len(proof) == 0 {
		return leaf == root
	}
	acc := leaf
	for _, sibling := range proof {
		acc = pairHash(acc, sibling)
	}
	return acc == root
}
