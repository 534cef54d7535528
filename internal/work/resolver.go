package work

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Fork resolution errors.
var (
	ErrBlockNotFound = errors.New("block header not found during chainwork traversal")
	ErrDepthExceeded = errors.New("chainwork traversal exceeded maximum depth")
)

// DefaultMaxDepth bounds the backward traversal when summing chainwork.
const DefaultMaxDepth = 1000

// DefaultTolerancePercent is the chainwork gap, as a percentage of the
// larger side, below which the anti-split tiebreak applies.
const DefaultTolerancePercent = 10

// HeaderSource resolves block headers by hash. The chain state provides the
// production implementation; tests inject maps.
type HeaderSource interface {
	GetHeader(hash types.Hash) (*block.Header, error)
}

// ForkResolver compares competing chain tips by accumulated proof-of-work.
//
// When two tips carry nearly equal work and anti-split logic is enabled, the
// resolver prefers the tip it has observed more often, falling back to a
// lexicographic comparison of the tip hashes so every honest node converges
// on the same branch.
type ForkResolver struct {
	maxDepth         int
	antiSplit        bool
	tolerancePercent uint64

	mu           sync.Mutex
	observations map[types.Hash]int
}

// NewForkResolver creates a resolver with the given traversal depth bound.
func NewForkResolver(maxDepth int) *ForkResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &ForkResolver{
		maxDepth:         maxDepth,
		antiSplit:        true,
		tolerancePercent: DefaultTolerancePercent,
		observations:     make(map[types.Hash]int),
	}
}

// SetAntiSplit toggles the near-tie tiebreak logic.
func (r *ForkResolver) SetAntiSplit(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.antiSplit = enabled
}

// RecordObservation notes that a tip has been seen (announced or extended).
// Observation counts feed the anti-split tiebreak.
func (r *ForkResolver) RecordObservation(tip types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations[tip]++
}

// ForgetObservations drops the observation count for a tip that is no
// longer a fork candidate.
func (r *ForkResolver) ForgetObservations(tip types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observations, tip)
}

// ChainWork sums per-block work from the given tip backward to genesis
// (zero prev hash), saturating on overflow. Traversal is bounded by the
// resolver's max depth; a missing header fails with ErrBlockNotFound.
func (r *ForkResolver) ChainWork(tip types.Hash, headers HeaderSource) (U256, error) {
	current := tip
	total := ZeroU256()

	for depth := 0; ; depth++ {
		if depth >= r.maxDepth {
			return ZeroU256(), fmt.Errorf("%w: depth %d from tip %s", ErrDepthExceeded, depth, tip)
		}

		header, err := headers.GetHeader(current)
		if err != nil || header == nil {
			return ZeroU256(), fmt.Errorf("%w: %s", ErrBlockNotFound, current)
		}

		blockWork, err := BlockWork(header.Bits)
		if err != nil {
			return ZeroU256(), err
		}
		total = total.SaturatingAdd(blockWork)

		if header.PrevHash.IsZero() {
			break // Genesis.
		}
		current = header.PrevHash
	}

	return total, nil
}

// CompareChains decides which of two tips should be the active chain.
// Returns >0 if tipA wins, <0 if tipB wins, 0 if the tips are identical.
func (r *ForkResolver) CompareChains(tipA, tipB types.Hash, headers HeaderSource) (int, error) {
	if tipA == tipB {
		return 0, nil
	}

	workA, err := r.ChainWork(tipA, headers)
	if err != nil {
		return 0, fmt.Errorf("chainwork for %s: %w", tipA, err)
	}
	workB, err := r.ChainWork(tipB, headers)
	if err != nil {
		return 0, fmt.Errorf("chainwork for %s: %w", tipB, err)
	}

	cmp := workA.Cmp(workB)
	if cmp == 0 {
		return r.tiebreak(tipA, tipB), nil
	}

	r.mu.Lock()
	antiSplit := r.antiSplit
	tolerance := r.tolerancePercent
	r.mu.Unlock()

	if !antiSplit {
		return cmp, nil
	}

	// Near-tie: the gap is below tolerance% of the heavier chain.
	heavier := workA
	if cmp < 0 {
		heavier = workB
	}
	gap := workA.SaturatingSub(workB)
	if cmp < 0 {
		gap = workB.SaturatingSub(workA)
	}
	threshold, err := heavier.MulUint64Saturating(tolerance).DivUint64(100)
	if err != nil {
		return cmp, nil
	}
	if gap.Cmp(threshold) > 0 {
		return cmp, nil // Clear winner by work.
	}

	return r.tiebreak(tipA, tipB), nil
}

// tiebreak prefers the more observed tip, then the lexicographically
// smaller tip hash. Deterministic across nodes by construction.
func (r *ForkResolver) tiebreak(tipA, tipB types.Hash) int {
	r.mu.Lock()
	obsA := r.observations[tipA]
	obsB := r.observations[tipB]
	r.mu.Unlock()

	switch {
	case obsA > obsB:
		return 1
	case obsA < obsB:
		return -1
	}
	// Lexicographic: the smaller hash wins.
	if bytes.Compare(tipA[:], tipB[:]) < 0 {
		return 1
	}
	return -1
}
