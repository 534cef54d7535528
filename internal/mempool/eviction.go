package mempool

import (
	"fmt"
	"math"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// checkCapacityLocked enforces the pool size caps. When full, a newcomer
// must beat the current eviction threshold (the lowest pooled fee rate);
// the lowest-rate entry is evicted to make room.
func (p *Pool) checkCapacityLocked(newFeeRate float64) error {
	overCount := len(p.txs) >= p.cfg.MaxPoolSize
	overBytes := p.cfg.MaxPoolBytes > 0 && p.bytes >= p.cfg.MaxPoolBytes
	if !overCount && !overBytes {
		return nil
	}

	lowestHash, lowestRate := p.lowestFeeRateLocked()
	if newFeeRate <= lowestRate {
		return fmt.Errorf("%w: fee rate %.3f at or below eviction threshold %.3f", ErrPoolFull, newFeeRate, lowestRate)
	}

	// Evict the cheapest entry and its descendants until the newcomer fits.
	for (len(p.txs) >= p.cfg.MaxPoolSize || (p.cfg.MaxPoolBytes > 0 && p.bytes >= p.cfg.MaxPoolBytes)) && len(p.txs) > 0 {
		for _, d := range p.limits.AllDescendants(lowestHash) {
			p.removeLocked(d)
		}
		p.removeLocked(lowestHash)
		lowestHash, lowestRate = p.lowestFeeRateLocked()
		if lowestRate >= newFeeRate {
			break
		}
	}
	return nil
}

// lowestFeeRateLocked returns the hash and rate of the cheapest entry.
func (p *Pool) lowestFeeRateLocked() (types.Hash, float64) {
	var lowestHash types.Hash
	lowestRate := math.MaxFloat64
	for h, e := range p.txs {
		if e.FeeRate < lowestRate {
			lowestRate = e.FeeRate
			lowestHash = h
		}
	}
	if len(p.txs) == 0 {
		lowestRate = 0
	}
	return lowestHash, lowestRate
}
