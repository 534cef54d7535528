package block

import (
	"errors"
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Structural validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrDuplicateTx         = errors.New("duplicate transaction in block")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
	ErrCoinbaseNotFirst    = errors.New("coinbase transaction not at index 0")
	ErrTooManyTxs          = errors.New("too many transactions in block")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 2 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency: version bounds,
// merkle binding, transaction uniqueness, and coinbase placement.
// Contextual rules (timestamps, difficulty, subsidy) require chain state.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	// Merkle root must bind the transaction set.
	root := ComputeMerkleRoot(b.TxHashes())
	if root != b.Header.MerkleRoot {
		return fmt.Errorf("%w: computed %s, header %s", ErrBadMerkleRoot, root, b.Header.MerkleRoot)
	}

	// No duplicate txids.
	seenTx := make(map[types.Hash]bool, len(b.Transactions))
	for i, t := range b.Transactions {
		h := t.Hash()
		if seenTx[h] {
			return fmt.Errorf("tx %d (%s): %w", i, h, ErrDuplicateTx)
		}
		seenTx[h] = true
	}

	// Exactly one coinbase, and it is transaction index 0.
	coinbaseCount := 0
	for i, t := range b.Transactions {
		if t.IsCoinbase() {
			coinbaseCount++
			if coinbaseCount > 1 {
				return fmt.Errorf("tx %d: %w", i, ErrMultipleCoinbase)
			}
			if i != 0 {
				return fmt.Errorf("tx %d: %w", i, ErrCoinbaseNotFirst)
			}
		}
	}
	if coinbaseCount == 0 {
		return ErrNoCoinbase
	}

	// No outpoint may be spent twice within the block.
	seenInputs := make(map[types.Outpoint]bool)
	for i, t := range b.Transactions {
		for _, in := range t.Inputs {
			if in.PrevOut.IsCoinbase() {
				continue
			}
			if seenInputs[in.PrevOut] {
				return fmt.Errorf("tx %d input %s: %w", i, in.PrevOut, ErrDuplicateBlockInput)
			}
			seenInputs[in.PrevOut] = true
		}
	}

	return nil
}
