package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Tree is a fixed-size heap-ordered Merkle tree over hashed buckets of keys.
// Node i has children 2i+1 and 2i+2; leaves start at numLeaves-1.
type Tree struct {
	mu         sync.RWMutex
	nodes      []string
	numLeaves  int
	leafOffset int
}

// New creates a tree with numLeaves buckets. numLeaves must be a power of 2.
func New(numLeaves int) (*Tree, error) {
	if numLeaves < 2 || (numLeaves&(numLeaves-1)) != 0 {
		return nil, fmt.Errorf("numLeaves must be a power of 2 and >= 2")
	}

	return &Tree{
		nodes:      make([]string, 2*numLeaves-1),
		numLeaves:  numLeaves,
		leafOffset: numLeaves - 1,
	}, nil
}

// BucketOf maps a key to its leaf.
func (t *Tree) BucketOf(key string) int {
	return int(murmur3.Sum64([]byte(key)) % uint64(t.numLeaves)) // #nosec G115
}

// SetBucket replaces the members of a leaf and propagates the change to the root.
// An empty member list clears the leaf.
func (t *Tree) SetBucket(bucket int, members []string) error {
	if bucket < 0 || bucket >= t.numLeaves {
		return fmt.Errorf("bucket out of range: %d", bucket)
	}

	leaf := ""
	if len(members) > 0 {
		sorted := append([]string(nil), members...)
		sort.Strings(sorted)
		h := sha256.New()
		for _, m := range sorted {
			h.Write([]byte(m))
			h.Write([]byte{0})
		}
		leaf = hex.EncodeToString(h.Sum(nil))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.leafOffset + bucket
	t.nodes[idx] = leaf
	for idx > 0 {
		parent := (idx - 1) / 2
		t.nodes[parent] = hashPair(t.nodes[2*parent+1], t.nodes[2*parent+2])
		idx = parent
	}
	return nil
}

// Root returns the current root hash; empty when every bucket is empty.
func (t *Tree) Root() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[0]
}

// NumLeaves returns the number of buckets.
func (t *Tree) NumLeaves() int {
	return t.numLeaves
}

func hashPair(left, right string) string {
	if left == "" && right == "" {
		return ""
	}

	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}
