// Package whitelist builds a fixed-depth Merkle tree over participant
// identity hashes and serves per-leaf inclusion proofs. Node hashing uses
// gnark-crypto's MiMC, the pack's one real zk-friendly hash primitive — it
// stands in for the Poseidon hash the original engine used, since no Poseidon
// implementation is present anywhere in the example corpus.
package whitelist

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/darkpool/engine/pkg/domain"
)

// MerkleProof is the witness that idHash is leaf `Index` under `Root`.
type MerkleProof struct {
	Index   uint64
	Leaf    *big.Int
	Path    []*big.Int // sibling hash at each level, leaf to root
	Root    *big.Int
}

var zeroLeaf = big.NewInt(0)

func hash(inputs ...*big.Int) *big.Int {
	h := mimc.NewMiMC()
	for _, in := range inputs {
		b := in.Bytes()
		// left-pad to the field element width MiMC expects.
		buf := make([]byte, 32)
		copy(buf[32-len(b):], b)
		h.Write(buf)
	}
	sum := h.Sum(nil)
	return new(big.Int).SetBytes(sum)
}

// Tree is a fixed-depth binary Merkle tree, mutex-guarded because sync
// atomically swaps the entire leaf set under load.
type Tree struct {
	mu     sync.RWMutex
	depth  int
	leaves []*big.Int // 2^depth leaves, zero-padded
	levels [][]*big.Int
	proofs map[uint64]MerkleProof
}

func New(depth int) *Tree {
	return &Tree{depth: depth, proofs: make(map[uint64]MerkleProof)}
}

// Initialize builds the tree over idHashes, assigning leaf index by
// position, and returns the root plus one inclusion proof per real leaf.
func (t *Tree) Initialize(idHashes []*big.Int) (root *big.Int, proofs map[uint64]MerkleProof, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	capacity := 1 << uint(t.depth)
	if len(idHashes) > capacity {
		return nil, nil, fmt.Errorf("whitelist: %d participants exceed tree capacity %d", len(idHashes), capacity)
	}

	leaves := make([]*big.Int, capacity)
	for i := 0; i < capacity; i++ {
		if i < len(idHashes) {
			leaves[i] = hash(idHashes[i])
		} else {
			leaves[i] = hash(zeroLeaf)
		}
	}

	levels := [][]*big.Int{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([]*big.Int, len(cur)/2)
		for i := range next {
			next[i] = hash(cur[2*i], cur[2*i+1])
		}
		levels = append(levels, next)
		cur = next
	}

	t.leaves = leaves
	t.levels = levels
	t.proofs = make(map[uint64]MerkleProof, len(idHashes))

	root = levels[len(levels)-1][0]
	for i := range idHashes {
		t.proofs[uint64(i)] = t.buildProof(uint64(i), root)
	}

	return root, t.proofs, nil
}

func (t *Tree) buildProof(index uint64, root *big.Int) MerkleProof {
	path := make([]*big.Int, 0, t.depth)
	idx := index
	for level := 0; level < t.depth; level++ {
		siblingIdx := idx ^ 1
		path = append(path, t.levels[level][siblingIdx])
		idx /= 2
	}
	return MerkleProof{Index: index, Leaf: t.leaves[index], Path: path, Root: root}
}

func (t *Tree) RootHex() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.levels) == 0 {
		return ""
	}
	root := t.levels[len(t.levels)-1][0]
	return "0x" + root.Text(16)
}

func (t *Tree) ProofByIndex(i uint64) (MerkleProof, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.proofs[i]
	return p, ok
}

// Count reports the number of real (non-padding) participants currently in
// the tree, for the whitelist status endpoint.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.proofs)
}

// VerifyProof recomputes the root from leaf and path and compares against
// the claimed root. Only the tests call it; the proof orchestrator passes
// proofs to the oracle without checking them.
func VerifyProof(p MerkleProof) bool {
	cur := p.Leaf
	idx := p.Index
	for _, sibling := range p.Path {
		if idx%2 == 0 {
			cur = hash(cur, sibling)
		} else {
			cur = hash(sibling, cur)
		}
		idx /= 2
	}
	return cur.Cmp(p.Root) == 0
}

// RegistrySource is the chain adapter's view of active participants, kept
// minimal so whitelist has no import-time dependency on pkg/chain.
type RegistrySource interface {
	ActiveParticipants() ([]*big.Int, error)
}

// Sync replaces the tree atomically from the chain registry. It emits no
// event — clients are expected to poll rootHex()/status after calling this.
func (t *Tree) Sync(source RegistrySource) error {
	idHashes, err := source.ActiveParticipants()
	if err != nil {
		return fmt.Errorf("whitelist sync: %w", err)
	}
	_, _, err = t.Initialize(idHashes)
	return err
}

// EntryFromIndex is a convenience constructor for a WhitelistEntry. Nothing
// in this repo calls it; the REST whitelist status reports only the root
// prefix and the participant count.
func EntryFromIndex(idHash *big.Int, index uint64) domain.WhitelistEntry {
	return domain.WhitelistEntry{IDHash: idHash, TreeIndex: index}
}
