package chain

import (
	"sync"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Invalid-block tracker defaults.
const (
	DefaultMaxInvalidAttempts = 3
	DefaultMaxInvalidEntries  = 10_000
)

// InvalidBlock records why a block was rejected.
type InvalidBlock struct {
	Hash      types.Hash
	Parent    types.Hash
	Reason    string
	Attempts  int
	Permanent bool
	FirstSeen time.Time
}

// InvalidBlockTracker remembers rejected blocks. Failures start temporary;
// a block is promoted to permanently invalid after repeated attempts or
// when the failure itself is permanent. Descendants of a permanently
// invalid block are automatically permanently invalid.
type InvalidBlockTracker struct {
	mu          sync.Mutex
	entries     map[types.Hash]*InvalidBlock
	maxAttempts int
	maxEntries  int
}

// NewInvalidBlockTracker creates a tracker with the given bounds.
func NewInvalidBlockTracker(maxAttempts, maxEntries int) *InvalidBlockTracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxInvalidAttempts
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxInvalidEntries
	}
	return &InvalidBlockTracker{
		entries:     make(map[types.Hash]*InvalidBlock),
		maxAttempts: maxAttempts,
		maxEntries:  maxEntries,
	}
}

// MarkInvalid records a rejection. Returns the entry's current permanence.
func (t *InvalidBlockTracker) MarkInvalid(hash, parent types.Hash, reason string, permanent bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A child of a permanently invalid parent is permanently invalid.
	if p, ok := t.entries[parent]; ok && p.Permanent {
		permanent = true
	}

	entry, ok := t.entries[hash]
	if !ok {
		entry = &InvalidBlock{
			Hash:      hash,
			Parent:    parent,
			FirstSeen: time.Now(),
		}
		t.entries[hash] = entry
	}
	entry.Reason = reason
	entry.Attempts++
	if permanent || entry.Attempts >= t.maxAttempts {
		entry.Permanent = true
	}

	t.cleanupLocked()
	return entry.Permanent
}

// IsInvalid reports whether the block has any invalidity record.
func (t *InvalidBlockTracker) IsInvalid(hash types.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[hash]
	return ok
}

// IsPermanentlyInvalid reports whether the block can never become valid.
func (t *InvalidBlockTracker) IsPermanentlyInvalid(hash types.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[hash]
	return ok && e.Permanent
}

// Get returns a copy of the tracked entry, if any.
func (t *InvalidBlockTracker) Get(hash types.Hash) (InvalidBlock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[hash]
	if !ok {
		return InvalidBlock{}, false
	}
	return *e, true
}

// Remove drops a tracked entry (e.g. a temporary failure that later
// validated).
func (t *InvalidBlockTracker) Remove(hash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, hash)
}

// Len returns the number of tracked entries.
func (t *InvalidBlockTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// cleanupLocked evicts the oldest temporary entries once the tracker is
// over capacity. Permanent entries are kept.
func (t *InvalidBlockTracker) cleanupLocked() {
	if len(t.entries) <= t.maxEntries {
		return
	}
	var oldest types.Hash
	var oldestTime time.Time
	found := false
	for h, e := range t.entries {
		if e.Permanent {
			continue
		}
		if !found || e.FirstSeen.Before(oldestTime) {
			oldest = h
			oldestTime = e.FirstSeen
			found = true
		}
	}
	if found {
		delete(t.entries, oldest)
	}
}
