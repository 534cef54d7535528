package chain

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func utxoSnapshot(t *testing.T, store *utxo.Store) map[types.Outpoint]utxo.UTXO {
	t.Helper()
	out := make(map[types.Outpoint]utxo.UTXO)
	err := store.ForEach(func(u *utxo.UTXO) error {
		out[u.Outpoint] = *u
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return out
}

func TestReorg_HeavierForkWins(t *testing.T) {
	f := newFixture(t, testParams())
	subsidy := f.chain.validator.BlockSubsidy(0)

	// Chain A: genesis -> A1 -> A2 at the easy regtest target. A1 claims one
	// unit less than the subsidy so its coinbase txid differs from B1's.
	genesisHash := f.extend(t, 1)
	a1 := mineBlock(t, genesisHash, 1, baseTime+10, config.RegtestBits, subsidy-1)
	a2 := mineBlock(t, a1.Hash(), 2, baseTime+20, config.RegtestBits, subsidy)
	for i, blk := range []*block.Block{a1, a2} {
		if _, err := f.chain.ProcessBlock(blk); err != nil {
			t.Fatalf("process A%d: %v", i+1, err)
		}
	}
	if f.chain.Height() != 2 {
		t.Fatalf("height = %d, want 2", f.chain.Height())
	}

	// B1 extends genesis at a much harder target: one block outweighs two.
	b1 := mineBlock(t, genesisHash, 1, baseTime+15, heavyBits, subsidy)
	reorged, err := f.chain.ProcessBlock(b1)
	if err != nil {
		t.Fatalf("process B1: %v", err)
	}
	if !reorged {
		t.Fatal("heavier fork should trigger a reorg")
	}

	// Tip switched to B1 at height 1.
	if f.chain.TipHash() != b1.Hash() || f.chain.Height() != 1 {
		t.Errorf("tip = %s@%d, want B1@1", f.chain.TipHash(), f.chain.Height())
	}

	// A1 and A2 coinbase outputs disappeared; B1's are present.
	for i, old := range []*block.Block{a1, a2} {
		op := types.Outpoint{TxID: old.Transactions[0].Hash(), Index: 0}
		if has, _ := f.store.Has(op); has {
			t.Errorf("A%d coinbase output should be gone after reorg", i+1)
		}
	}
	b1Out := types.Outpoint{TxID: b1.Transactions[0].Hash(), Index: 0}
	if has, _ := f.store.Has(b1Out); !has {
		t.Error("B1 coinbase output should exist after reorg")
	}

	// Supply equals genesis + B1 subsidies exactly.
	stats, _ := f.store.Stats()
	if stats.TotalValue != 2*subsidy {
		t.Errorf("supply after reorg = %d, want %d", stats.TotalValue, 2*subsidy)
	}

	// The losing tip is now a tracked fork.
	if _, ok := f.chain.GetForks()[a2.Hash()]; !ok {
		t.Error("old tip should be tracked as a fork")
	}
}

func TestReorg_LighterForkStored(t *testing.T) {
	f := newFixture(t, testParams())
	subsidy := f.chain.validator.BlockSubsidy(0)

	f.extend(t, 3) // genesis + 2 more; tip height 2.
	tipBefore := f.chain.TipHash()

	// A single-block fork from genesis at equal difficulty has less work.
	g, _ := f.chain.state.HashAtHeight(0)
	fork := mineBlock(t, g, 1, baseTime+12, config.RegtestBits, subsidy)
	reorged, err := f.chain.ProcessBlock(fork)
	if err != nil {
		t.Fatalf("process fork: %v", err)
	}
	if reorged {
		t.Error("lighter fork must not reorg")
	}
	if f.chain.TipHash() != tipBefore {
		t.Error("tip must be unchanged")
	}
	if _, ok := f.chain.GetForks()[fork.Hash()]; !ok {
		t.Error("fork should be tracked")
	}
}

func TestReorg_InvalidBranchRollsBack(t *testing.T) {
	f := newFixture(t, testParams())
	subsidy := f.chain.validator.BlockSubsidy(0)

	f.extend(t, 3) // genesis, A1, A2.
	g, _ := f.chain.state.HashAtHeight(0)
	a1Hash, _ := f.chain.state.HashAtHeight(1)
	a2Hash, _ := f.chain.state.HashAtHeight(2)

	// Branch: C1 (valid, light) then C2 (heavy but overpaying coinbase).
	// C1 claims one unit less than the subsidy so its coinbase txid differs
	// from A1's.
	c1 := mineBlock(t, g, 1, baseTime+13, config.RegtestBits, subsidy-1)
	if _, err := f.chain.ProcessBlock(c1); err != nil {
		t.Fatalf("process C1: %v", err)
	}

	c2 := mineBlock(t, c1.Hash(), 2, baseTime+23, heavyBits, subsidy+1)
	reorged, err := f.chain.ProcessBlock(c2)
	if err == nil {
		t.Fatal("reorg onto an invalid branch must fail")
	}
	if reorged {
		t.Fatal("failed reorg must not report success")
	}

	// The chain rolled back to the original tip.
	if f.chain.TipHash() != a2Hash || f.chain.Height() != 2 {
		t.Errorf("tip = %s@%d, want A2@2", f.chain.TipHash(), f.chain.Height())
	}

	// Original outputs are intact, branch outputs absent.
	for _, hash := range []types.Hash{a1Hash, a2Hash} {
		blk, err := f.chain.GetBlock(hash)
		if err != nil {
			t.Fatalf("GetBlock: %v", err)
		}
		op := types.Outpoint{TxID: blk.Transactions[0].Hash(), Index: 0}
		if has, _ := f.store.Has(op); !has {
			t.Errorf("active-chain output %s missing after rollback", op)
		}
	}
	c1Out := types.Outpoint{TxID: c1.Transactions[0].Hash(), Index: 0}
	if has, _ := f.store.Has(c1Out); has {
		t.Error("rolled-back branch output must not persist")
	}

	// The offending block is permanently invalid.
	if !f.chain.InvalidBlocks().IsPermanentlyInvalid(c2.Hash()) {
		t.Error("invalid branch block should be permanently invalid")
	}
}

func TestReorg_TooDeepRejected(t *testing.T) {
	params := testParams()
	params.MaxForkLength = 2
	f := newFixture(t, params)
	subsidy := f.chain.validator.BlockSubsidy(0)

	f.extend(t, 5) // genesis + 4; tip height 4.
	g, _ := f.chain.state.HashAtHeight(0)

	// A heavy branch from genesis would disconnect 4 > 2 blocks.
	b1 := mineBlock(t, g, 1, baseTime+11, heavyBits, subsidy)
	b2 := mineBlock(t, b1.Hash(), 2, baseTime+21, heavyBits, subsidy)
	b3 := mineBlock(t, b2.Hash(), 3, baseTime+31, heavyBits, subsidy)

	var lastErr error
	for _, blk := range []*block.Block{b1, b2, b3} {
		_, lastErr = f.chain.ProcessBlock(blk)
	}
	if !errors.Is(lastErr, ErrReorgTooDeep) {
		t.Errorf("expected ErrReorgTooDeep, got: %v", lastErr)
	}
	if f.chain.Height() != 4 {
		t.Errorf("tip must not move on a too-deep reorg, height = %d", f.chain.Height())
	}
}

func TestReorg_OriginalEntriesRestoredOnReorgBack(t *testing.T) {
	f := newFixture(t, testParams())
	subsidy := f.chain.validator.BlockSubsidy(0)

	f.extend(t, 2) // genesis + A1.
	a1Tip := f.chain.TipHash()
	before := utxoSnapshot(t, f.store)

	// Reorg away to a heavier single-block branch...
	g, _ := f.chain.state.HashAtHeight(0)
	b1 := mineBlock(t, g, 1, baseTime+14, heavyBits, subsidy)
	if _, err := f.chain.ProcessBlock(b1); err != nil {
		t.Fatalf("process B1: %v", err)
	}
	if f.chain.TipHash() != b1.Hash() {
		t.Fatal("B1 should be the tip")
	}

	// ...then extend the original branch until it wins back.
	a2 := mineBlock(t, a1Tip, 2, baseTime+24, heavyBits, subsidy)
	a3 := mineBlock(t, a2.Hash(), 3, baseTime+34, heavyBits, subsidy)
	if _, err := f.chain.ProcessBlock(a2); err != nil {
		t.Fatalf("process A2: %v", err)
	}
	if _, err := f.chain.ProcessBlock(a3); err != nil {
		t.Fatalf("process A3: %v", err)
	}
	if f.chain.TipHash() != a3.Hash() {
		t.Fatal("extended original branch should win back the tip")
	}

	// Every pre-reorg entry is restored exactly.
	after := utxoSnapshot(t, f.store)
	for op, u := range before {
		got, ok := after[op]
		if !ok {
			t.Fatalf("entry %s lost across reorgs", op)
		}
		if !reflect.DeepEqual(got, u) {
			t.Fatalf("entry %s mutated across reorgs", op)
		}
	}
}

func TestReorg_RevertedTxsReturnToMempool(t *testing.T) {
	params := testParams()
	f := newFixture(t, params)
	subsidy := f.chain.validator.BlockSubsidy(0)

	var returned int
	f.chain.SetRevertedTxHandler(func(txs []*tx.Transaction) { returned += len(txs) })

	// Coinbase-only blocks: a reorg returns nothing to the mempool.
	f.extend(t, 2)
	g, _ := f.chain.state.HashAtHeight(0)
	b1 := mineBlock(t, g, 1, baseTime+16, heavyBits, subsidy)
	if _, err := f.chain.ProcessBlock(b1); err != nil {
		t.Fatalf("process B1: %v", err)
	}
	if returned != 0 {
		t.Errorf("coinbase-only reorg returned %d txs, want 0", returned)
	}
}
