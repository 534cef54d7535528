package chain

import (
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func hdr(nonce uint32, prev types.Hash) *block.Header {
	return &block.Header{Version: 1, PrevHash: prev, Timestamp: 1, Bits: 0x207FFFFF, Nonce: nonce}
}

func TestState_ActiveFirstInHeightSlot(t *testing.T) {
	s := NewState(10)

	h1 := hdr(1, types.Hash{})
	h2 := hdr(2, types.Hash{})
	a := h1.Hash()
	b := h2.Hash()

	s.AddHeader(a, h1, 1)
	s.AddHeader(b, h2, 1)
	s.SetTip(b, 1)

	active, ok := s.HashAtHeight(1)
	if !ok || active != b {
		t.Errorf("active at height 1 = %s, want %s", active, b)
	}
	if !s.IsActive(b) || s.IsActive(a) {
		t.Error("activity flags wrong after SetTip")
	}
}

func TestState_TrackForkPrunesOldest(t *testing.T) {
	s := NewState(2)

	tips := []types.Hash{{0x01}, {0x02}, {0x03}}
	var pruned []types.Hash
	for _, tip := range tips {
		pruned = append(pruned, s.TrackFork(tip, 0)...)
	}

	forks := s.Forks()
	if len(forks) != 2 {
		t.Errorf("forks = %d, want 2", len(forks))
	}
	if len(pruned) != 1 || pruned[0] != tips[0] {
		t.Errorf("pruned = %v, want the oldest fork", pruned)
	}
	if _, ok := forks[tips[0]]; ok {
		t.Error("oldest fork should have been pruned")
	}
}

func TestState_PruneHeadersKeepsActiveChain(t *testing.T) {
	s := NewState(2)

	// Active chain 0..5 plus one stale fork header at height 1.
	prev := types.Hash{}
	for h := uint64(0); h <= 5; h++ {
		header := hdr(uint32(h), prev)
		hash := header.Hash()
		s.AddHeader(hash, header, h)
		s.SetTip(hash, h)
		prev = hash
	}
	forkHdr := hdr(99, types.Hash{})
	forkHash := forkHdr.Hash()
	s.AddHeader(forkHash, forkHdr, 1)

	pruned := s.PruneHeaders()
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, err := s.GetHeader(forkHash); err == nil {
		t.Error("stale fork header should be pruned")
	}
	for h := uint64(0); h <= 5; h++ {
		if _, ok := s.HashAtHeight(h); !ok {
			t.Errorf("active header at height %d should survive pruning", h)
		}
	}
}

func TestState_ProcessedCache(t *testing.T) {
	s := NewState(10)
	h := types.Hash{0xAA}
	if s.IsProcessed(h) {
		t.Error("unseen hash should not be processed")
	}
	s.MarkProcessed(h)
	if !s.IsProcessed(h) {
		t.Error("marked hash should be processed")
	}
}
