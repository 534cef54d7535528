package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func TestOrphanPool_AddTake(t *testing.T) {
	o := NewOrphanPool(10, time.Hour)
	parent := types.Hash{0x01}

	blk := mineBlock(t, parent, 1, baseTime, config.RegtestBits, 100)
	o.Add(blk)
	o.Add(blk) // Duplicate ignored.

	if o.Len() != 1 {
		t.Fatalf("len = %d, want 1", o.Len())
	}
	if !o.Contains(blk.Hash()) {
		t.Error("pool should contain the orphan")
	}

	got := o.TakeChildren(parent)
	if len(got) != 1 || got[0].Hash() != blk.Hash() {
		t.Fatalf("TakeChildren = %v", got)
	}
	if o.Len() != 0 {
		t.Error("taken orphan should leave the pool")
	}
	if o.TakeChildren(parent) != nil {
		t.Error("second take should be empty")
	}
}

func TestOrphanPool_BoundedEviction(t *testing.T) {
	o := NewOrphanPool(2, time.Hour)
	now := time.Unix(1_700_000_000, 0)
	o.now = func() time.Time { return now }

	first := mineBlock(t, types.Hash{0x01}, 1, baseTime, config.RegtestBits, 100)
	o.Add(first)
	now = now.Add(time.Second)
	o.Add(mineBlock(t, types.Hash{0x02}, 1, baseTime, config.RegtestBits, 101))
	now = now.Add(time.Second)
	o.Add(mineBlock(t, types.Hash{0x03}, 1, baseTime, config.RegtestBits, 102))

	if o.Len() != 2 {
		t.Errorf("len = %d, want 2", o.Len())
	}
	if o.Contains(first.Hash()) {
		t.Error("oldest orphan should be evicted when full")
	}
}

func TestOrphanPool_Expiry(t *testing.T) {
	o := NewOrphanPool(10, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	o.now = func() time.Time { return now }

	stale := mineBlock(t, types.Hash{0x01}, 1, baseTime, config.RegtestBits, 100)
	o.Add(stale)

	now = now.Add(2 * time.Minute)
	o.Add(mineBlock(t, types.Hash{0x02}, 1, baseTime, config.RegtestBits, 101))

	if o.Contains(stale.Hash()) {
		t.Error("stale orphan should expire")
	}
}

func TestProcessBlock_OrphanConnectsWhenParentArrives(t *testing.T) {
	f := newFixture(t, testParams())
	subsidy := f.chain.validator.BlockSubsidy(0)

	genesisHash := f.extend(t, 1)

	a1 := mineBlock(t, genesisHash, 1, baseTime+10, config.RegtestBits, subsidy)
	a2 := mineBlock(t, a1.Hash(), 2, baseTime+20, config.RegtestBits, subsidy)

	// The child arrives before its parent: held as an orphan.
	if _, err := f.chain.ProcessBlock(a2); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got: %v", err)
	}
	if !f.chain.orphans.Contains(a2.Hash()) {
		t.Fatal("child should be pooled as an orphan")
	}

	// The parent arrives: both connect.
	if _, err := f.chain.ProcessBlock(a1); err != nil {
		t.Fatalf("ProcessBlock parent: %v", err)
	}
	if f.chain.Height() != 2 || f.chain.TipHash() != a2.Hash() {
		t.Errorf("tip = %s@%d, want the drained orphan at height 2", f.chain.TipHash(), f.chain.Height())
	}
	if f.chain.orphans.Len() != 0 {
		t.Error("orphan pool should be drained")
	}
}
