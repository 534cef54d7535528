package tx

import (
	"errors"
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func p2pkh() types.Script {
	return types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)}
}

func TestValidate_Structure(t *testing.T) {
	op := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}

	t.Run("no inputs", func(t *testing.T) {
		transaction := &Transaction{Version: 1, Outputs: []Output{{Value: 1, Script: p2pkh()}}}
		if !errors.Is(transaction.Validate(), ErrNoInputs) {
			t.Error("expected ErrNoInputs")
		}
	})

	t.Run("no outputs", func(t *testing.T) {
		transaction := NewBuilder().AddInput(op).Build()
		transaction.Inputs[0].Signature = []byte{1}
		transaction.Inputs[0].PubKey = []byte{1}
		if !errors.Is(transaction.Validate(), ErrNoOutputs) {
			t.Error("expected ErrNoOutputs")
		}
	})

	t.Run("bad version", func(t *testing.T) {
		transaction := NewBuilder().AddInput(op).AddOutput(1, p2pkh()).Build()
		transaction.Version = 3
		transaction.Inputs[0].Signature = []byte{1}
		transaction.Inputs[0].PubKey = []byte{1}
		if !errors.Is(transaction.Validate(), ErrBadVersion) {
			t.Error("expected ErrBadVersion")
		}
	})

	t.Run("duplicate input", func(t *testing.T) {
		transaction := NewBuilder().AddInput(op).AddInput(op).AddOutput(1, p2pkh()).Build()
		transaction.Inputs[0].Signature = []byte{1}
		transaction.Inputs[0].PubKey = []byte{1}
		transaction.Inputs[1].Signature = []byte{1}
		transaction.Inputs[1].PubKey = []byte{1}
		if !errors.Is(transaction.Validate(), ErrDuplicateInput) {
			t.Error("expected ErrDuplicateInput")
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		transaction := NewBuilder().AddInput(op).AddOutput(1, p2pkh()).Build()
		transaction.Inputs[0].PubKey = []byte{1}
		if !errors.Is(transaction.Validate(), ErrMissingSig) {
			t.Error("expected ErrMissingSig")
		}
	})

	t.Run("stray coinbase marker", func(t *testing.T) {
		transaction := NewBuilder().
			AddInput(op).
			AddInput(types.Outpoint{Index: types.CoinbaseIndex}).
			AddOutput(1, p2pkh()).
			Build()
		for i := range transaction.Inputs {
			transaction.Inputs[i].Signature = []byte{1}
			transaction.Inputs[i].PubKey = []byte{1}
		}
		if !errors.Is(transaction.Validate(), ErrStrayCoinbaseInput) {
			t.Error("expected ErrStrayCoinbaseInput")
		}
	})

	t.Run("zero output", func(t *testing.T) {
		transaction := NewBuilder().AddInput(op).AddOutput(0, p2pkh()).Build()
		transaction.Inputs[0].Signature = []byte{1}
		transaction.Inputs[0].PubKey = []byte{1}
		if !errors.Is(transaction.Validate(), ErrZeroOutput) {
			t.Error("expected ErrZeroOutput")
		}
	})

	t.Run("coinbase is exempt from signatures", func(t *testing.T) {
		cb := NewCoinbase(7, 5000, p2pkh())
		if err := cb.Validate(); err != nil {
			t.Errorf("coinbase should validate: %v", err)
		}
	})
}
