package chain

import (
	"sync"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Orphan pool bounds.
const (
	DefaultMaxOrphans   = 100
	DefaultOrphanExpiry = 20 * time.Minute
)

type orphanEntry struct {
	blk   *block.Block
	added time.Time
}

// OrphanPool holds valid-looking blocks whose parent has not arrived yet.
// When the parent is processed the children are handed back for another
// attempt. Bounded: the oldest orphan is dropped when full, and stale
// orphans expire.
type OrphanPool struct {
	mu       sync.Mutex
	byHash   map[types.Hash]*orphanEntry
	byParent map[types.Hash][]types.Hash
	max      int
	expiry   time.Duration
	now      func() time.Time
}

// NewOrphanPool creates a pool with the given bounds.
func NewOrphanPool(max int, expiry time.Duration) *OrphanPool {
	if max <= 0 {
		max = DefaultMaxOrphans
	}
	if expiry <= 0 {
		expiry = DefaultOrphanExpiry
	}
	return &OrphanPool{
		byHash:   make(map[types.Hash]*orphanEntry),
		byParent: make(map[types.Hash][]types.Hash),
		max:      max,
		expiry:   expiry,
		now:      time.Now,
	}
}

// Add stores an orphan block. Duplicates are ignored.
func (o *OrphanPool) Add(blk *block.Block) {
	o.mu.Lock()
	defer o.mu.Unlock()

	hash := blk.Hash()
	if _, exists := o.byHash[hash]; exists {
		return
	}

	o.expireLocked()
	if len(o.byHash) >= o.max {
		o.dropOldestLocked()
	}

	o.byHash[hash] = &orphanEntry{blk: blk, added: o.now()}
	parent := blk.Header.PrevHash
	o.byParent[parent] = append(o.byParent[parent], hash)
}

// TakeChildren removes and returns all orphans waiting on the given parent.
func (o *OrphanPool) TakeChildren(parent types.Hash) []*block.Block {
	o.mu.Lock()
	defer o.mu.Unlock()

	hashes := o.byParent[parent]
	if len(hashes) == 0 {
		return nil
	}
	delete(o.byParent, parent)

	out := make([]*block.Block, 0, len(hashes))
	for _, h := range hashes {
		if e, ok := o.byHash[h]; ok {
			out = append(out, e.blk)
			delete(o.byHash, h)
		}
	}
	return out
}

// Contains reports whether a block is waiting in the pool.
func (o *OrphanPool) Contains(hash types.Hash) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byHash[hash]
	return ok
}

// Len returns the number of pooled orphans.
func (o *OrphanPool) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byHash)
}

// expireLocked drops orphans older than the expiry.
func (o *OrphanPool) expireLocked() {
	cutoff := o.now().Add(-o.expiry)
	for hash, e := range o.byHash {
		if e.added.Before(cutoff) {
			o.removeLocked(hash, e)
		}
	}
}

// dropOldestLocked evicts the longest-waiting orphan.
func (o *OrphanPool) dropOldestLocked() {
	var oldest types.Hash
	var oldestEntry *orphanEntry
	for hash, e := range o.byHash {
		if oldestEntry == nil || e.added.Before(oldestEntry.added) {
			oldest = hash
			oldestEntry = e
		}
	}
	if oldestEntry != nil {
		o.removeLocked(oldest, oldestEntry)
	}
}

func (o *OrphanPool) removeLocked(hash types.Hash, e *orphanEntry) {
	delete(o.byHash, hash)
	parent := e.blk.Header.PrevHash
	siblings := o.byParent[parent]
	for i, h := range siblings {
		if h == hash {
			o.byParent[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(o.byParent[parent]) == 0 {
		delete(o.byParent, parent)
	}
}
