package utxo

import (
	"sort"
	"sync"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// LockManager hands out per-outpoint spend locks. Every writer that touches
// a set of outpoints must acquire their locks through AcquireSorted so that
// overlapping transactions always lock in the same order and cannot
// deadlock against each other.
type LockManager struct {
	mu    sync.Mutex
	locks map[types.Outpoint]*sync.Mutex
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[types.Outpoint]*sync.Mutex)}
}

// lockFor returns the mutex for an outpoint, creating it on first use.
func (lm *LockManager) lockFor(op types.Outpoint) *sync.Mutex {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.locks[op]
	if !ok {
		l = &sync.Mutex{}
		lm.locks[op] = l
	}
	return l
}

// SortOutpoints deduplicates and sorts outpoints into the canonical lock
// acquisition order (lexicographic by txid, then index).
func SortOutpoints(outpoints []types.Outpoint) []types.Outpoint {
	seen := make(map[types.Outpoint]bool, len(outpoints))
	sorted := make([]types.Outpoint, 0, len(outpoints))
	for _, op := range outpoints {
		if !seen[op] {
			seen[op] = true
			sorted = append(sorted, op)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Compare(sorted[j]) < 0
	})
	return sorted
}

// AcquireSorted try-locks every outpoint in canonical order. On success it
// returns a release function that must be called on every exit path. If any
// lock is already held, the locks acquired so far are released and the call
// fails with ErrLocked so the caller can distinguish transient contention
// from a permanent double spend.
func (lm *LockManager) AcquireSorted(outpoints []types.Outpoint) (func(), error) {
	sorted := SortOutpoints(outpoints)

	acquired := make([]*sync.Mutex, 0, len(sorted))
	for _, op := range sorted {
		l := lm.lockFor(op)
		if !l.TryLock() {
			// Contention: back out in reverse order.
			for i := len(acquired) - 1; i >= 0; i-- {
				acquired[i].Unlock()
			}
			return nil, ErrLocked
		}
		acquired = append(acquired, l)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			for i := len(acquired) - 1; i >= 0; i-- {
				acquired[i].Unlock()
			}
		})
	}
	return release, nil
}

// Forget drops lock entries for outpoints that can never be referenced
// again (spent and buried). Callers must not hold the locks being dropped.
func (lm *LockManager) Forget(outpoints []types.Outpoint) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, op := range outpoints {
		delete(lm.locks, op)
	}
}
