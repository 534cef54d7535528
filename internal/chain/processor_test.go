package chain

import (
	"errors"
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/work"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/crypto"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// heavyBits is an easily minable target (~1 in 512 hashes) that still
// carries far more work per block than the regtest target.
const heavyBits uint32 = 0x20008000

func testParams() config.Consensus {
	p := config.DefaultConsensus()
	p.GenesisBits = config.RegtestBits
	p.AdjustInterval = 0 // No retarget schedule: stated targets are accepted.
	p.CoinbaseMaturity = 1
	p.MaxForkLength = 10
	p.CheckpointInterval = 5
	return p
}

var chainTestKey = func() *crypto.PrivateKey {
	seed := make([]byte, 32)
	seed[31] = 7
	key, err := crypto.PrivateKeyFromBytes(seed)
	if err != nil {
		panic(err)
	}
	return key
}()

func chainAddr() types.Script {
	addr := crypto.AddressFromPubKey(chainTestKey.PublicKey())
	return types.Script{Type: types.ScriptTypeP2PKH, Data: addr[:]}
}

type fixture struct {
	chain *Chain
	store *utxo.Store
	db    *storage.MemoryDB
}

func newFixture(t *testing.T, params config.Consensus) *fixture {
	t.Helper()
	db := storage.NewMemory()
	store := utxo.NewStore(db)
	atomicSet := utxo.NewAtomicSet(store, utxo.NewLockManager(), nil)
	c, err := New(params, db, atomicSet, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{chain: c, store: store, db: db}
}

// mineBlock assembles and mines a block on the given parent.
func mineBlock(t *testing.T, parent types.Hash, height uint64, timestamp uint64, bits uint32, coinbaseValue uint64, extra ...*tx.Transaction) *block.Block {
	t.Helper()
	txs := append([]*tx.Transaction{tx.NewCoinbase(height, coinbaseValue, chainAddr())}, extra...)
	blk := block.NewBlock(&block.Header{
		Version:   1,
		PrevHash:  parent,
		Timestamp: timestamp,
		Bits:      bits,
	}, txs)
	blk.Header.MerkleRoot = block.ComputeMerkleRoot(blk.TxHashes())

	target, err := work.CompactToTarget(bits)
	if err != nil {
		t.Fatalf("CompactToTarget: %v", err)
	}
	for nonce := uint32(0); ; nonce++ {
		blk.Header.Nonce = nonce
		if work.HashMeetsTarget(blk.Hash(), target) {
			return blk
		}
		if nonce == 1<<22 {
			t.Fatal("could not mine test block")
		}
	}
}

const baseTime = uint64(1_700_000_000)

// extend mines and processes count blocks on the current tip, returning the
// final tip hash.
func (f *fixture) extend(t *testing.T, count int) types.Hash {
	t.Helper()
	subsidy := f.chain.validator.BlockSubsidy(0)
	for i := 0; i < count; i++ {
		height := f.chain.Height() + 1
		if f.chain.state.IsEmpty() {
			height = 0
		}
		blk := mineBlock(t, f.chain.TipHash(), height, baseTime+height*10, config.RegtestBits, subsidy)
		if _, err := f.chain.ProcessBlock(blk); err != nil {
			t.Fatalf("ProcessBlock height %d: %v", height, err)
		}
	}
	return f.chain.TipHash()
}

func TestProcessBlock_GenesisAndExtend(t *testing.T) {
	f := newFixture(t, testParams())

	f.extend(t, 3) // Genesis + 2.

	if f.chain.Height() != 2 {
		t.Errorf("height = %d, want 2", f.chain.Height())
	}

	// Every connected coinbase output is in the UTXO set; total supply is
	// exactly the sum of subsidies.
	stats, err := f.store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	subsidy := f.chain.validator.BlockSubsidy(0)
	if stats.TotalValue != 3*subsidy {
		t.Errorf("supply = %d, want %d", stats.TotalValue, 3*subsidy)
	}
}

func TestProcessBlock_DuplicateIsNoOp(t *testing.T) {
	f := newFixture(t, testParams())
	subsidy := f.chain.validator.BlockSubsidy(0)

	genesis := mineBlock(t, types.Hash{}, 0, baseTime, config.RegtestBits, subsidy)
	if _, err := f.chain.ProcessBlock(genesis); err != nil {
		t.Fatalf("first: %v", err)
	}
	reorged, err := f.chain.ProcessBlock(genesis)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if reorged {
		t.Error("duplicate must not reorg")
	}

	stats, _ := f.store.Stats()
	if stats.TotalValue != subsidy {
		t.Errorf("duplicate processing changed supply: %d", stats.TotalValue)
	}
}

func TestProcessBlock_OrphanRejected(t *testing.T) {
	f := newFixture(t, testParams())
	f.extend(t, 1)

	orphan := mineBlock(t, types.Hash{0xEE}, 5, baseTime+100, config.RegtestBits, f.chain.validator.BlockSubsidy(0))
	if _, err := f.chain.ProcessBlock(orphan); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("expected ErrUnknownParent, got: %v", err)
	}
}

func TestProcessBlock_StructuralFailureIsPermanent(t *testing.T) {
	f := newFixture(t, testParams())
	f.extend(t, 1)

	bad := mineBlock(t, f.chain.TipHash(), 1, baseTime+10, config.RegtestBits, f.chain.validator.BlockSubsidy(1))
	bad.Header.MerkleRoot[0] ^= 0xFF

	if _, err := f.chain.ProcessBlock(bad); err == nil {
		t.Fatal("corrupt merkle root must be rejected")
	}
	if !f.chain.InvalidBlocks().IsPermanentlyInvalid(bad.Hash()) {
		t.Error("structural failure should be permanently invalid")
	}
}

func TestProcessBlock_DescendantOfInvalidIsInvalid(t *testing.T) {
	f := newFixture(t, testParams())
	f.extend(t, 1)
	subsidy := f.chain.validator.BlockSubsidy(0)

	bad := mineBlock(t, f.chain.TipHash(), 1, baseTime+10, config.RegtestBits, subsidy+1)
	if _, err := f.chain.ProcessBlock(bad); err == nil {
		t.Fatal("overpaying coinbase must be rejected")
	}

	child := mineBlock(t, bad.Hash(), 2, baseTime+20, config.RegtestBits, subsidy)
	if _, err := f.chain.ProcessBlock(child); !errors.Is(err, ErrKnownInvalid) {
		t.Errorf("expected ErrKnownInvalid for descendant, got: %v", err)
	}
	if !f.chain.InvalidBlocks().IsPermanentlyInvalid(child.Hash()) {
		t.Error("descendant of invalid block should be permanently invalid")
	}
}

func TestProcessBlock_SubsidyEnforced(t *testing.T) {
	f := newFixture(t, testParams())
	f.extend(t, 1)
	subsidy := f.chain.validator.BlockSubsidy(1)

	over := mineBlock(t, f.chain.TipHash(), 1, baseTime+10, config.RegtestBits, subsidy+1)
	if _, err := f.chain.ProcessBlock(over); err == nil {
		t.Fatal("coinbase over subsidy must be rejected")
	}

	exact := mineBlock(t, f.chain.TipHash(), 1, baseTime+10, config.RegtestBits, subsidy)
	if _, err := f.chain.ProcessBlock(exact); err != nil {
		t.Fatalf("exact subsidy rejected: %v", err)
	}
}

func TestProcessBlock_CheckpointEmitted(t *testing.T) {
	f := newFixture(t, testParams()) // CheckpointInterval = 5.
	f.extend(t, 6)                   // Heights 0..5.

	cps := f.chain.GetCheckpoints()
	if len(cps) != 1 {
		t.Fatalf("checkpoints = %d, want 1", len(cps))
	}
	if cps[0].Height != 5 {
		t.Errorf("checkpoint height = %d, want 5", cps[0].Height)
	}
	tip, _ := f.chain.state.HashAtHeight(5)
	if cps[0].Hash != tip {
		t.Error("checkpoint hash should pin the active block")
	}
}

func TestChain_RecoversStateAcrossRestart(t *testing.T) {
	f := newFixture(t, testParams())
	f.extend(t, 4)
	tip := f.chain.TipHash()
	height := f.chain.Height()

	// A second chain over the same database must resume the same tip.
	atomicSet := utxo.NewAtomicSet(f.store, utxo.NewLockManager(), nil)
	c2, err := New(testParams(), f.db, atomicSet, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if c2.TipHash() != tip || c2.Height() != height {
		t.Errorf("recovered tip %s@%d, want %s@%d", c2.TipHash(), c2.Height(), tip, height)
	}
}
