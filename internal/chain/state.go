// Package chain implements the blockchain state machine: active tip
// selection, fork tracking, and atomic reorganization.
package chain

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// processedCacheSize bounds the duplicate-suppression cache.
const processedCacheSize = 8192

// Checkpoint pins a block hash at a height.
type Checkpoint struct {
	Height    uint64     `json:"height"`
	Hash      types.Hash `json:"hash"`
	Timestamp uint64     `json:"timestamp"`
}

// State is the in-memory chain index: headers by hash, hashes by height
// (active chain first in each slot), tracked forks, and checkpoints. It is
// rebuilt from storage at startup and guarded by a single reader-writer
// lock.
type State struct {
	mu sync.RWMutex

	height  uint64
	tipHash types.Hash

	headers  map[types.Hash]*block.Header
	heights  map[types.Hash]uint64
	byHeight map[uint64][]types.Hash

	forks     map[types.Hash]uint64 // fork tip -> common ancestor height
	forkOrder []types.Hash          // insertion order, for pruning oldest

	checkpoints map[uint64]Checkpoint
	processed   *lru.Cache[types.Hash, struct{}]

	maxForkLength uint64
}

// NewState creates an empty chain index.
func NewState(maxForkLength uint64) *State {
	cache, _ := lru.New[types.Hash, struct{}](processedCacheSize)
	return &State{
		headers:       make(map[types.Hash]*block.Header),
		heights:       make(map[types.Hash]uint64),
		byHeight:      make(map[uint64][]types.Hash),
		forks:         make(map[types.Hash]uint64),
		checkpoints:   make(map[uint64]Checkpoint),
		processed:     cache,
		maxForkLength: maxForkLength,
	}
}

// Height returns the active chain height.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// TipHash returns the active tip hash.
func (s *State) TipHash() types.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipHash
}

// IsEmpty reports whether no blocks have been indexed yet.
func (s *State) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipHash.IsZero() && len(s.headers) == 0
}

// GetHeader resolves a header by hash. Satisfies the fork resolver's
// header source.
func (s *State) GetHeader(hash types.Hash) (*block.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.headers[hash]
	if !ok {
		return nil, fmt.Errorf("header %s not found", hash)
	}
	return h, nil
}

// HeaderHeight returns the height a known header occupies.
func (s *State) HeaderHeight(hash types.Hash) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heights[hash]
	return h, ok
}

// HashAtHeight returns the active-chain hash at a height.
func (s *State) HashAtHeight(height uint64) (types.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.byHeight[height]
	if len(slot) == 0 {
		return types.Hash{}, false
	}
	return slot[0], true
}

// IsActive reports whether the given hash is on the active chain.
func (s *State) IsActive(hash types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	height, ok := s.heights[hash]
	if !ok {
		return false
	}
	slot := s.byHeight[height]
	return len(slot) > 0 && slot[0] == hash
}

// AddHeader indexes a header at a height. Fork headers append after the
// active entry in their height slot.
func (s *State) AddHeader(hash types.Hash, header *block.Header, height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addHeaderLocked(hash, header, height)
}

func (s *State) addHeaderLocked(hash types.Hash, header *block.Header, height uint64) {
	if _, ok := s.headers[hash]; ok {
		return
	}
	s.headers[hash] = header
	s.heights[hash] = height
	s.byHeight[height] = append(s.byHeight[height], hash)
}

// SetTip makes the given hash the active entry of its height slot and
// updates the tip.
func (s *State) SetTip(hash types.Hash, height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.byHeight[height]
	for i, h := range slot {
		if h == hash && i != 0 {
			slot[0], slot[i] = slot[i], slot[0]
			break
		}
	}
	s.tipHash = hash
	s.height = height
}

// MarkProcessed records that a block hash has been through ProcessBlock.
func (s *State) MarkProcessed(hash types.Hash) {
	s.processed.Add(hash, struct{}{})
}

// IsProcessed reports whether a block hash was already handled.
func (s *State) IsProcessed(hash types.Hash) bool {
	return s.processed.Contains(hash)
}

// TrackFork records a fork tip with its common ancestor height, pruning the
// oldest tracked fork beyond the horizon.
func (s *State) TrackFork(tip types.Hash, ancestorHeight uint64) (pruned []types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.forks[tip]; !ok {
		s.forkOrder = append(s.forkOrder, tip)
	}
	s.forks[tip] = ancestorHeight

	for uint64(len(s.forks)) > s.maxForkLength && len(s.forkOrder) > 0 {
		oldest := s.forkOrder[0]
		s.forkOrder = s.forkOrder[1:]
		if _, ok := s.forks[oldest]; ok {
			delete(s.forks, oldest)
			pruned = append(pruned, oldest)
		}
	}
	return pruned
}

// ForgetFork drops a fork tip (it became the active chain or was pruned).
func (s *State) ForgetFork(tip types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.forks, tip)
	for i, h := range s.forkOrder {
		if h == tip {
			s.forkOrder = append(s.forkOrder[:i], s.forkOrder[i+1:]...)
			break
		}
	}
}

// Forks returns a copy of the fork map (tip -> common ancestor height).
func (s *State) Forks() map[types.Hash]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.Hash]uint64, len(s.forks))
	for k, v := range s.forks {
		out[k] = v
	}
	return out
}

// AddCheckpoint records a checkpoint.
func (s *State) AddCheckpoint(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.Height] = cp
}

// Checkpoints returns all checkpoints in ascending height order.
func (s *State) Checkpoints() []Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// PruneHeaders drops headers that are neither on the active chain nor
// within the fork horizon of the tip.
func (s *State) PruneHeaders() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var horizon uint64
	if s.height > s.maxForkLength {
		horizon = s.height - s.maxForkLength
	}

	pruned := 0
	for hash, height := range s.heights {
		if height >= horizon {
			continue
		}
		slot := s.byHeight[height]
		if len(slot) > 0 && slot[0] == hash {
			continue // Active chain headers are kept.
		}
		delete(s.headers, hash)
		delete(s.heights, hash)
		for i, h := range slot {
			if h == hash {
				s.byHeight[height] = append(slot[:i], slot[i+1:]...)
				break
			}
		}
		pruned++
	}
	return pruned
}
