package cache

// A VictimFinder decides which way of a set should receive a newly fetched
// block.
type VictimFinder interface {
	// FindVictim returns the way to evict (or fill) in the given set.
	FindVictim(dir *Directory, index uint64) int

	// RecordAccess marks a way as the most recently used of its set. The
	// controller calls it on every hit and every fill.
	RecordAccess(index uint64, way int)

	// Reset clears all recency state.
	Reset()
}

// TreePLRU tracks recency with a binary tree of associativity-1 bits per
// set, stored heap-ordered in one word: bit 0 is the root, bits 2n+1 and
// 2n+2 are the children of bit n, and the leaves below map to ways in
// order. A node bit of 0 means the left subtree holds the victim.
//
// This approximates true LRU at O(log associativity) update cost. Under
// adversarial access patterns it can evict a more recently used way than
// another; that is accepted behavior of the policy, not a defect. With
// associativity 1 the tree is empty and way 0 is always both the hit
// candidate and the victim.
type TreePLRU struct {
	assoc  int
	levels int
	nodes  []uint64
}

// NewTreePLRU creates the replacement state for all sets of the given
// geometry, with every tree bit pointing at way 0.
func NewTreePLRU(cfg Config) *TreePLRU {
	return &TreePLRU{
		assoc:  cfg.Associativity,
		levels: log2(cfg.Associativity),
		nodes:  make([]uint64, cfg.NumSets()),
	}
}

// FindVictim prefers the lowest-numbered invalid way, bypassing the tree.
// With all ways valid it descends the tree from the root, following each
// node bit to the less recently used subtree.
func (p *TreePLRU) FindVictim(dir *Directory, index uint64) int {
	for w := 0; w < p.assoc; w++ {
		if !dir.Valid(index, w) {
			return w
		}
	}

	word := p.nodes[index]
	n := 0
	for l := 0; l < p.levels; l++ {
		n = 2*n + 1 + int(word>>uint(n)&1)
	}

	return n - (p.assoc - 1)
}

// RecordAccess sets every tree bit on the path from the root to the way to
// point away from it, toward the sibling subtree.
func (p *TreePLRU) RecordAccess(index uint64, way int) {
	n := way + p.assoc - 1
	for n > 0 {
		parent := (n - 1) / 2
		if n == 2*parent+1 {
			// The way sits in the left subtree; victimize the right.
			p.nodes[index] |= 1 << uint(parent)
		} else {
			p.nodes[index] &^= 1 << uint(parent)
		}
		n = parent
	}
}

// Reset points every tree bit in every set back at way 0.
func (p *TreePLRU) Reset() {
	for i := range p.nodes {
		p.nodes[i] = 0
	}
}
