package tx

import (
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func TestRequiredFee_MatchesSize(t *testing.T) {
	transaction := NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddOutput(1000, types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)}).
		Build()

	size := uint64(transaction.Size())
	if got := RequiredFee(transaction, 3); got != size*3 {
		t.Errorf("RequiredFee = %d, want %d", got, size*3)
	}
}

func TestEstimateTxFee_CoversBuiltTx(t *testing.T) {
	transaction := NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddInput(types.Outpoint{TxID: types.Hash{0x02}, Index: 1}).
		AddOutput(1000, types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)}).
		AddOutput(2000, types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)}).
		Build()

	estimate := EstimateTxFee(2, 2, 1)
	exact := RequiredFee(transaction, 1)
	if estimate < exact {
		t.Errorf("estimate %d below exact size-based fee %d", estimate, exact)
	}
}
