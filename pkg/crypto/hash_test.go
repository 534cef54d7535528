package crypto

import (
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func TestHash_Deterministic(t *testing.T) {
	a := Hash([]byte("supernova"))
	b := Hash([]byte("supernova"))
	if a != b {
		t.Error("hash should be deterministic")
	}
	c := Hash([]byte("supernovb"))
	if a == c {
		t.Error("different inputs should produce different hashes")
	}
}

func TestDoubleHash_DiffersFromSingle(t *testing.T) {
	data := []byte("block header bytes")
	single := Hash(data)
	double := DoubleHash(data)
	if single == double {
		t.Error("double hash should differ from single hash")
	}
	if double != Hash(single.Bytes()) {
		t.Error("double hash should equal hash of hash")
	}
}

func TestHashConcat_OrderMatters(t *testing.T) {
	a := Hash([]byte("a"))
	b := Hash([]byte("b"))
	if HashConcat(a, b) == HashConcat(b, a) {
		t.Error("concat hash should depend on order")
	}
}

func TestPaymentHash(t *testing.T) {
	preimage := []byte("payment preimage material 32 byt")
	h1 := PaymentHash(preimage)
	h2 := PaymentHash(preimage)
	if h1 != h2 {
		t.Error("payment hash should be deterministic")
	}
	if h1 == PaymentHash([]byte("different preimage")) {
		t.Error("different preimages should produce different payment hashes")
	}
}

func TestAddressFromPubKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := AddressFromPubKey(key.PublicKey())
	if addr == (types.Address{}) {
		t.Error("address should not be zero")
	}
}
