package validation

import (
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/work"
)

// NextBits computes the compact target a block at the given height must
// carry. Off retarget boundaries it is the parent's bits; on boundaries the
// previous window's target is rescaled by actual/expected elapsed time,
// clamped to [1/4x, 4x], and never eased beyond the genesis target.
//
// firstTimestamp and lastTimestamp bracket the previous adjustment window
// (heights height-interval and height-1); they are ignored off boundaries.
func (v *Validator) NextBits(height uint64, prevBits uint32, firstTimestamp, lastTimestamp uint64) (uint32, error) {
	if height == 0 {
		return v.params.GenesisBits, nil
	}
	interval := v.params.AdjustInterval
	if interval == 0 || height%interval != 0 {
		return prevBits, nil
	}

	prevTarget, err := work.CompactToTarget(prevBits)
	if err != nil {
		return 0, fmt.Errorf("retarget at height %d: %w", height, err)
	}

	expected := int64(interval) * int64(v.params.TargetBlockTime)
	actual := int64(lastTimestamp) - int64(firstTimestamp)
	actual = clampTimespan(actual, expected)

	// newTarget = prevTarget * actual / expected.
	newTarget, err := prevTarget.MulUint64Saturating(uint64(actual)).DivUint64(uint64(expected))
	if err != nil {
		return 0, fmt.Errorf("retarget at height %d: %w", height, err)
	}
	if newTarget.IsZero() {
		newTarget = work.OneU256()
	}

	// Never easier than the genesis target.
	limit, err := work.CompactToTarget(v.params.GenesisBits)
	if err != nil {
		return 0, fmt.Errorf("genesis bits: %w", err)
	}
	if newTarget.Cmp(limit) > 0 {
		newTarget = limit
	}

	return work.TargetToCompact(newTarget), nil
}

// clampTimespan bounds the measured window to a quarter and four times the
// expected span so a single window cannot swing difficulty more than 4x.
func clampTimespan(actual, expected int64) int64 {
	if actual < 1 {
		actual = 1
	}
	min := expected / 4
	if min < 1 {
		min = 1
	}
	max := expected * 4
	if actual < min {
		return min
	}
	if actual > max {
		return max
	}
	return actual
}
