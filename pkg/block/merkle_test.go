package block

import (
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/crypto"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func TestComputeMerkleRoot_Empty(t *testing.T) {
	if root := ComputeMerkleRoot(nil); !root.IsZero() {
		t.Error("empty tx set should produce zero root")
	}
}

func TestComputeMerkleRoot_Single(t *testing.T) {
	h := crypto.Hash([]byte("tx"))
	if root := ComputeMerkleRoot([]types.Hash{h}); root != h {
		t.Error("single hash should be its own root")
	}
}

func TestComputeMerkleRoot_Pair(t *testing.T) {
	a := crypto.Hash([]byte("a"))
	b := crypto.Hash([]byte("b"))
	want := crypto.HashConcat(a, b)
	if root := ComputeMerkleRoot([]types.Hash{a, b}); root != want {
		t.Errorf("root = %s, want %s", root, want)
	}
}

func TestComputeMerkleRoot_OddCountDuplicatesLast(t *testing.T) {
	a := crypto.Hash([]byte("a"))
	b := crypto.Hash([]byte("b"))
	c := crypto.Hash([]byte("c"))

	left := crypto.HashConcat(a, b)
	right := crypto.HashConcat(c, c)
	want := crypto.HashConcat(left, right)

	if root := ComputeMerkleRoot([]types.Hash{a, b, c}); root != want {
		t.Errorf("root = %s, want %s", root, want)
	}
}

func TestComputeMerkleRoot_DoesNotMutateInput(t *testing.T) {
	hashes := []types.Hash{
		crypto.Hash([]byte("a")),
		crypto.Hash([]byte("b")),
		crypto.Hash([]byte("c")),
	}
	orig := make([]types.Hash, len(hashes))
	copy(orig, hashes)

	ComputeMerkleRoot(hashes)

	for i := range hashes {
		if hashes[i] != orig[i] {
			t.Fatal("input slice was mutated")
		}
	}
}

func TestComputeMerkleRoot_SensitiveToOrder(t *testing.T) {
	a := crypto.Hash([]byte("a"))
	b := crypto.Hash([]byte("b"))
	if ComputeMerkleRoot([]types.Hash{a, b}) == ComputeMerkleRoot([]types.Hash{b, a}) {
		t.Error("root should depend on transaction order")
	}
}
