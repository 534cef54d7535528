package mempool

import (
	"fmt"
	"math"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// checkReplacementLocked applies the replace-by-fee rules for a
// transaction conflicting with the given pooled entries:
//
//   - every conflicting entry must signal replaceability,
//   - the replacement's absolute fee must exceed the sum of the
//     conflicts' fees,
//   - its fee rate must beat the best conflicting rate by the configured
//     increment, and
//   - the total eviction set (conflicts plus descendants) must stay under
//     the cap.
func (p *Pool) checkReplacementLocked(fee uint64, feeRate float64, conflicts []types.Hash) error {
	var feeSum uint64
	maxRate := 0.0
	for _, c := range conflicts {
		entry := p.txs[c]
		if entry == nil {
			continue
		}
		if !entry.SignalsRBF {
			return fmt.Errorf("%w: %s", ErrRBFNotSignaled, c)
		}
		if feeSum > math.MaxUint64-entry.Fee {
			return fmt.Errorf("%w: conflict fee overflow", ErrConflict)
		}
		feeSum += entry.Fee
		if entry.FeeRate > maxRate {
			maxRate = entry.FeeRate
		}
	}

	if fee <= feeSum {
		return fmt.Errorf("%w: replacement fee %d must exceed replaced fees %d", ErrFeeTooLow, fee, feeSum)
	}
	required := maxRate * (1 + p.cfg.MinRBFFeeIncrease)
	if feeRate <= required {
		return fmt.Errorf("%w: replacement rate %.3f must exceed %.3f (+%.0f%%)",
			ErrFeeTooLow, feeRate, required, p.cfg.MinRBFFeeIncrease*100)
	}

	return p.limits.CheckRBFEvictionCount(conflicts)
}

// evictReplacedLocked removes the replaced conflicts and their descendants.
func (p *Pool) evictReplacedLocked(conflicts []types.Hash) {
	for _, c := range conflicts {
		for _, d := range p.limits.AllDescendants(c) {
			p.removeLocked(d)
		}
		p.removeLocked(c)
		log.Mempool.Debug().Str("tx", c.String()).Msg("replaced by fee")
	}
}
