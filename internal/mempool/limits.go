package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Chain-limit errors.
var (
	ErrAncestorChainTooLong   = errors.New("unconfirmed ancestor chain too long")
	ErrAncestorSizeTooLarge   = errors.New("unconfirmed ancestor chain too large")
	ErrDescendantChainTooLong = errors.New("unconfirmed descendant chain too long")
	ErrDescendantSizeTooLarge = errors.New("unconfirmed descendant chain too large")
	ErrRBFTooManyEvictions    = errors.New("replacement would evict too many transactions")
)

// ChainLimits tracks parent/child links between unconfirmed transactions
// and enforces ancestor/descendant chain bounds. The link graph is acyclic
// by construction: a transaction can only name parents that are already in
// the pool.
type ChainLimits struct {
	mu       sync.Mutex
	cfg      config.Mempool
	parents  map[types.Hash]map[types.Hash]bool
	children map[types.Hash]map[types.Hash]bool
	sizes    map[types.Hash]int
}

// NewChainLimits creates a tracker with the given policy.
func NewChainLimits(cfg config.Mempool) *ChainLimits {
	return &ChainLimits{
		cfg:      cfg,
		parents:  make(map[types.Hash]map[types.Hash]bool),
		children: make(map[types.Hash]map[types.Hash]bool),
		sizes:    make(map[types.Hash]int),
	}
}

// Check verifies that admitting a transaction of the given size with the
// given in-pool parents stays inside every chain limit: the transaction's
// own ancestor statistics, and the descendant statistics of each ancestor
// with the transaction counted in.
func (l *ChainLimits) Check(size int, parentHashes []types.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ancestors := l.collectAncestorsLocked(parentHashes)
	ancestorSize := size
	for a := range ancestors {
		ancestorSize += l.sizes[a]
	}

	// The chain length counts the candidate itself.
	if len(ancestors)+1 > l.cfg.MaxAncestorCount {
		return fmt.Errorf("%w: count %d, limit %d", ErrAncestorChainTooLong, len(ancestors), l.cfg.MaxAncestorCount)
	}
	if ancestorSize > l.cfg.MaxAncestorSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrAncestorSizeTooLarge, ancestorSize, l.cfg.MaxAncestorSize)
	}

	// Each ancestor gains this transaction as a descendant.
	for a := range ancestors {
		descendants := l.collectDescendantsLocked(a)
		descCount := len(descendants) + 1
		descSize := size
		for d := range descendants {
			descSize += l.sizes[d]
		}
		if descCount > l.cfg.MaxDescendantCount {
			return fmt.Errorf("%w: tx %s would have %d descendants, limit %d",
				ErrDescendantChainTooLong, a, descCount, l.cfg.MaxDescendantCount)
		}
		if descSize > l.cfg.MaxDescendantSize {
			return fmt.Errorf("%w: tx %s descendants would total %d bytes, limit %d",
				ErrDescendantSizeTooLarge, a, descSize, l.cfg.MaxDescendantSize)
		}
	}
	return nil
}

// Register records a transaction and its parent links.
func (l *ChainLimits) Register(txHash types.Hash, size int, parentHashes []types.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sizes[txHash] = size
	if l.parents[txHash] == nil {
		l.parents[txHash] = make(map[types.Hash]bool)
	}
	for _, p := range parentHashes {
		l.parents[txHash][p] = true
		if l.children[p] == nil {
			l.children[p] = make(map[types.Hash]bool)
		}
		l.children[p][txHash] = true
	}
}

// Unregister drops a transaction and its links.
func (l *ChainLimits) Unregister(txHash types.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for p := range l.parents[txHash] {
		delete(l.children[p], txHash)
	}
	for c := range l.children[txHash] {
		delete(l.parents[c], txHash)
	}
	delete(l.parents, txHash)
	delete(l.children, txHash)
	delete(l.sizes, txHash)
}

// AllDescendants returns every transitive descendant of a transaction.
func (l *ChainLimits) AllDescendants(txHash types.Hash) []types.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()

	descendants := l.collectDescendantsLocked(txHash)
	out := make([]types.Hash, 0, len(descendants))
	for d := range descendants {
		out = append(out, d)
	}
	return out
}

// CheckRBFEvictionCount verifies that replacing the given conflicts (plus
// all their descendants) stays under the eviction cap.
func (l *ChainLimits) CheckRBFEvictionCount(conflicts []types.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := make(map[types.Hash]bool)
	for _, c := range conflicts {
		evicted[c] = true
		for d := range l.collectDescendantsLocked(c) {
			evicted[d] = true
		}
	}
	if len(evicted) > l.cfg.MaxRBFEvictions {
		return fmt.Errorf("%w: %d, limit %d", ErrRBFTooManyEvictions, len(evicted), l.cfg.MaxRBFEvictions)
	}
	return nil
}

// AncestorStats returns the transitive ancestor count and byte size for a
// hypothetical child of the given parents (excluding the child itself).
func (l *ChainLimits) AncestorStats(parentHashes []types.Hash) (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ancestors := l.collectAncestorsLocked(parentHashes)
	size := 0
	for a := range ancestors {
		size += l.sizes[a]
	}
	return len(ancestors), size
}

// Len returns the number of tracked transactions.
func (l *ChainLimits) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sizes)
}

// collectAncestorsLocked BFS-walks parent links from the given start set.
func (l *ChainLimits) collectAncestorsLocked(start []types.Hash) map[types.Hash]bool {
	seen := make(map[types.Hash]bool)
	queue := make([]types.Hash, 0, len(start))
	for _, p := range start {
		if _, tracked := l.sizes[p]; tracked && !seen[p] {
			seen[p] = true
			queue = append(queue, p)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for p := range l.parents[cur] {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen
}

// collectDescendantsLocked BFS-walks child links from one transaction.
func (l *ChainLimits) collectDescendantsLocked(txHash types.Hash) map[types.Hash]bool {
	seen := make(map[types.Hash]bool)
	queue := []types.Hash{txHash}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for c := range l.children[cur] {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	return seen
}
