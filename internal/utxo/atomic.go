package utxo

import (
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// AtomicSet applies and reverses whole transactions against a Set with
// double-spend protection. Either every input is consumed and every output
// created, or no change is visible. All mutations are journaled before they
// reach the set.
type AtomicSet struct {
	set     Set
	locks   *LockManager
	journal Journal
}

// NewAtomicSet wraps a Set with spend locks and journaling.
// A nil journal disables journaling (tests, rebuilds).
func NewAtomicSet(set Set, locks *LockManager, journal Journal) *AtomicSet {
	if locks == nil {
		locks = NewLockManager()
	}
	if journal == nil {
		journal = NopJournal{}
	}
	return &AtomicSet{set: set, locks: locks, journal: journal}
}

// Set returns the underlying UTXO set for read-only access.
func (a *AtomicSet) Set() Set {
	return a.set
}

// Locks returns the lock manager shared by this set.
func (a *AtomicSet) Locks() *LockManager {
	return a.locks
}

// inputOutpoints collects the non-coinbase outpoints a transaction spends.
func inputOutpoints(transaction *tx.Transaction) []types.Outpoint {
	ops := make([]types.Outpoint, 0, len(transaction.Inputs))
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsCoinbase() {
			continue
		}
		ops = append(ops, in.PrevOut)
	}
	return ops
}

// ApplyTransaction atomically spends the transaction's inputs and creates
// its outputs at the given height. Returns the spent entries (undo data)
// for a later ReverseTransaction.
//
// Spend locks are try-locks, so concurrent transactions sharing an outpoint
// do not wait for each other: one that finds an input locked fails with
// ErrLocked, and one that runs after the winner has committed finds the
// input spent and fails with ErrNotFound.
func (a *AtomicSet) ApplyTransaction(transaction *tx.Transaction, height uint64, coinbase bool) ([]UTXO, error) {
	release, err := a.locks.AcquireSorted(inputOutpoints(transaction))
	if err != nil {
		return nil, err
	}
	defer release()

	// Read all inputs first so nothing mutates on a missing input.
	spent := make([]UTXO, 0, len(transaction.Inputs))
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsCoinbase() {
			continue
		}
		u, err := a.set.Get(in.PrevOut)
		if err != nil {
			return nil, err
		}
		spent = append(spent, *u)
	}

	txHash := transaction.Hash()
	created := make([]UTXO, len(transaction.Outputs))
	for i, out := range transaction.Outputs {
		created[i] = UTXO{
			Outpoint:  types.Outpoint{TxID: txHash, Index: uint32(i)},
			Value:     out.Value,
			Script:    out.Script,
			Height:    height,
			Coinbase:  coinbase,
			Confirmed: true,
		}
	}

	// Journal every mutation before it becomes visible.
	for i := range spent {
		if err := a.journal.LogUtxoDelete(spent[i].Outpoint); err != nil {
			return nil, fmt.Errorf("journal spend %s: %w", spent[i].Outpoint, err)
		}
	}
	for i := range created {
		if err := a.journal.LogUtxoWrite(&created[i]); err != nil {
			return nil, fmt.Errorf("journal output %s: %w", created[i].Outpoint, err)
		}
	}

	// Mutate the set: spend inputs, then create outputs.
	for i := range spent {
		if err := a.set.Delete(spent[i].Outpoint); err != nil {
			return nil, fmt.Errorf("spend %s: %w", spent[i].Outpoint, err)
		}
	}
	for i := range created {
		if err := a.set.Put(&created[i]); err != nil {
			return nil, fmt.Errorf("create output %s: %w", created[i].Outpoint, err)
		}
	}

	return spent, nil
}

// ReverseTransaction restores the exact pre-apply state: the transaction's
// outputs are destroyed and the spent entries are re-created.
func (a *AtomicSet) ReverseTransaction(transaction *tx.Transaction, spent []UTXO) error {
	release, err := a.locks.AcquireSorted(inputOutpoints(transaction))
	if err != nil {
		return err
	}
	defer release()

	txHash := transaction.Hash()

	// Journal first, mirroring ApplyTransaction.
	for i := len(transaction.Outputs) - 1; i >= 0; i-- {
		op := types.Outpoint{TxID: txHash, Index: uint32(i)}
		if err := a.journal.LogUtxoDelete(op); err != nil {
			return fmt.Errorf("journal undo output %s: %w", op, err)
		}
	}
	for i := range spent {
		if err := a.journal.LogUtxoWrite(&spent[i]); err != nil {
			return fmt.Errorf("journal restore %s: %w", spent[i].Outpoint, err)
		}
	}

	// Destroy created outputs in reverse order.
	for i := len(transaction.Outputs) - 1; i >= 0; i-- {
		op := types.Outpoint{TxID: txHash, Index: uint32(i)}
		if err := a.set.Delete(op); err != nil {
			return fmt.Errorf("delete created output %s: %w", op, err)
		}
	}

	// Restore spent entries.
	for i := range spent {
		if err := a.set.Put(&spent[i]); err != nil {
			return fmt.Errorf("restore utxo %s: %w", spent[i].Outpoint, err)
		}
	}

	return nil
}
