// Package validation implements the unified block validation pipeline:
// structural checks that run on every block, and contextual consensus
// checks that run against chain state.
package validation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/work"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/crypto"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Consensus validation errors. Structural and contextual failures are both
// permanent: the block can never become valid.
var (
	ErrInvalidStructure   = errors.New("invalid block structure")
	ErrInvalidMerkleRoot  = errors.New("merkle root does not bind transactions")
	ErrNoCoinbase         = errors.New("block has no coinbase transaction")
	ErrMultipleCoinbase   = errors.New("block has multiple coinbase transactions")
	ErrInvalidTimestamp   = errors.New("block timestamp out of bounds")
	ErrDifficultyMismatch = errors.New("block difficulty does not match expected")
	ErrInvalidPoW         = errors.New("block hash does not meet difficulty target")
	ErrInvalidSubsidy     = errors.New("coinbase output exceeds subsidy plus fees")
	ErrInvalidTransaction = errors.New("invalid transaction in block")
)

// View provides read access to the UTXO set during contextual validation.
// The chain injects a view that overlays in-block outputs over the
// confirmed set so transaction chains within a block validate.
type View interface {
	Get(outpoint types.Outpoint) (*utxo.UTXO, error)
	Has(outpoint types.Outpoint) (bool, error)
}

// MutableView is a View that can additionally absorb a transaction's
// effects, so later transactions in the same block can spend outputs of
// earlier ones. When the context's View implements it, validation advances
// the view after each transaction.
type MutableView interface {
	View
	Spend(outpoint types.Outpoint)
	Create(u *utxo.UTXO)
}

// Context carries the chain state a contextual validation runs against.
type Context struct {
	// Height the block would occupy.
	Height uint64
	// PrevTimestamps holds the timestamps of up to the last MedianTimeSpan
	// ancestors, oldest first.
	PrevTimestamps []uint64
	// ExpectedBits is the compact target required at this height.
	ExpectedBits uint32
	// View resolves input outpoints.
	View View
	// Now supplies network time for the future-drift check. Nil = time.Now.
	Now func() time.Time
}

// Validator checks blocks against consensus rules.
type Validator struct {
	params config.Consensus
}

// New creates a validator with the given consensus rules.
func New(params config.Consensus) *Validator {
	return &Validator{params: params}
}

// Params returns the consensus rules the validator enforces.
func (v *Validator) Params() config.Consensus {
	return v.params
}

// ValidateBlock runs the structural phase: shape, merkle binding,
// transaction uniqueness, coinbase placement. Runs on every block.
func (v *Validator) ValidateBlock(blk *block.Block) error {
	err := blk.Validate()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, block.ErrBadMerkleRoot):
		return fmt.Errorf("%w: %v", ErrInvalidMerkleRoot, err)
	case errors.Is(err, block.ErrNoCoinbase):
		return fmt.Errorf("%w: %v", ErrNoCoinbase, err)
	case errors.Is(err, block.ErrMultipleCoinbase):
		return fmt.Errorf("%w: %v", ErrMultipleCoinbase, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
}

// ValidateBlockSecure runs the structural phase and, when a context is
// provided, the contextual phase as well.
func (v *Validator) ValidateBlockSecure(blk *block.Block, ctx *Context) error {
	if err := v.ValidateBlock(blk); err != nil {
		return err
	}
	if ctx == nil {
		return nil
	}
	_, err := v.ValidateContextual(blk, ctx)
	return err
}

// ValidateContextual runs the contextual phase: timestamp bounds, difficulty,
// proof of work, coinbase value, coinbase maturity, and fee non-negativity.
// Returns the total fees paid by the block's non-coinbase transactions.
func (v *Validator) ValidateContextual(blk *block.Block, ctx *Context) (uint64, error) {
	if err := v.validateTimestamp(blk.Header, ctx); err != nil {
		return 0, err
	}

	// Difficulty must match the retarget schedule exactly.
	if blk.Header.Bits != ctx.ExpectedBits {
		return 0, fmt.Errorf("%w: height %d has bits %#08x, want %#08x",
			ErrDifficultyMismatch, ctx.Height, blk.Header.Bits, ctx.ExpectedBits)
	}

	// The header hash, as a big-endian integer, must not exceed the target.
	target, err := work.CompactToTarget(blk.Header.Bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDifficultyMismatch, err)
	}
	hash := blk.Hash()
	if !work.HashMeetsTarget(hash, target) {
		return 0, fmt.Errorf("%w: hash %s exceeds target %s", ErrInvalidPoW, hash, target)
	}

	totalFees, err := v.validateTransactions(blk, ctx)
	if err != nil {
		return 0, err
	}

	// Coinbase value is capped at subsidy + fees.
	coinbaseTotal, err := blk.Transactions[0].TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("%w: coinbase overflow: %v", ErrInvalidSubsidy, err)
	}
	subsidy := v.BlockSubsidy(ctx.Height)
	allowed := subsidy
	if allowed > math.MaxUint64-totalFees {
		allowed = math.MaxUint64
	} else {
		allowed += totalFees
	}
	if coinbaseTotal > allowed {
		return 0, fmt.Errorf("%w: coinbase %d, subsidy %d + fees %d at height %d",
			ErrInvalidSubsidy, coinbaseTotal, subsidy, totalFees, ctx.Height)
	}

	return totalFees, nil
}

// validateTimestamp enforces the median-time-past lower bound and the
// future-drift upper bound.
func (v *Validator) validateTimestamp(header *block.Header, ctx *Context) error {
	if len(ctx.PrevTimestamps) > 0 {
		median := MedianTimestamp(ctx.PrevTimestamps)
		if header.Timestamp < median {
			return fmt.Errorf("%w: timestamp %d below median-time-past %d",
				ErrInvalidTimestamp, header.Timestamp, median)
		}
	}

	now := time.Now
	if ctx.Now != nil {
		now = ctx.Now
	}
	maxTime := uint64(now().Add(v.params.MaxFutureDrift).Unix())
	if header.Timestamp > maxTime {
		return fmt.Errorf("%w: timestamp %d exceeds max %d", ErrInvalidTimestamp, header.Timestamp, maxTime)
	}
	return nil
}

// validateTransactions checks each non-coinbase transaction against the
// view: input existence, P2PKH ownership, signatures, coinbase maturity,
// and non-negative fee. When the view is mutable it absorbs each
// transaction's effects so in-block chains resolve. Returns the summed fees.
func (v *Validator) validateTransactions(blk *block.Block, ctx *Context) (uint64, error) {
	mutable, _ := ctx.View.(MutableView)

	var totalFees uint64
	for i, transaction := range blk.Transactions {
		if i > 0 {
			fee, err := v.validateTransactionInputs(i, transaction, ctx)
			if err != nil {
				return 0, err
			}
			if totalFees > math.MaxUint64-fee {
				return 0, fmt.Errorf("%w: tx %d fee overflow", ErrInvalidTransaction, i)
			}
			totalFees += fee
		}

		if mutable != nil {
			advanceView(mutable, transaction, ctx.Height, i == 0)
		}
	}
	return totalFees, nil
}

// validateTransactionInputs checks one non-coinbase transaction and returns
// its fee.
func (v *Validator) validateTransactionInputs(index int, transaction *tx.Transaction, ctx *Context) (uint64, error) {
	var inputSum uint64
	for _, in := range transaction.Inputs {
		u, err := ctx.View.Get(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("%w: tx %d input %s: %v", ErrInvalidTransaction, index, in.PrevOut, err)
		}

		// Coinbase outputs need maturity before they can be spent.
		if u.Coinbase && ctx.Height-u.Height < v.params.CoinbaseMaturity {
			return 0, fmt.Errorf("%w: tx %d spends immature coinbase %s (%d of %d confirmations)",
				ErrInvalidTransaction, index, in.PrevOut, ctx.Height-u.Height, v.params.CoinbaseMaturity)
		}

		// Ownership: the spending pubkey must hash to the P2PKH address.
		if u.Script.Type == types.ScriptTypeP2PKH {
			if len(u.Script.Data) != types.AddressSize {
				return 0, fmt.Errorf("%w: tx %d input %s: malformed P2PKH script", ErrInvalidTransaction, index, in.PrevOut)
			}
			derived := crypto.AddressFromPubKey(in.PubKey)
			var expected types.Address
			copy(expected[:], u.Script.Data)
			if derived != expected {
				return 0, fmt.Errorf("%w: tx %d input %s: pubkey does not match script", ErrInvalidTransaction, index, in.PrevOut)
			}
		}

		if inputSum > math.MaxUint64-u.Value {
			return 0, fmt.Errorf("%w: tx %d input overflow", ErrInvalidTransaction, index)
		}
		inputSum += u.Value
	}

	if err := transaction.VerifySignatures(); err != nil {
		return 0, fmt.Errorf("%w: tx %d: %v", ErrInvalidTransaction, index, err)
	}

	outputSum, err := transaction.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("%w: tx %d: %v", ErrInvalidTransaction, index, err)
	}
	if inputSum < outputSum {
		return 0, fmt.Errorf("%w: tx %d outputs %d exceed inputs %d",
			ErrInvalidTransaction, index, outputSum, inputSum)
	}
	return inputSum - outputSum, nil
}

// advanceView absorbs a transaction's effects into a mutable view.
func advanceView(view MutableView, transaction *tx.Transaction, height uint64, coinbase bool) {
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsCoinbase() {
			continue
		}
		view.Spend(in.PrevOut)
	}
	txHash := transaction.Hash()
	for i, out := range transaction.Outputs {
		view.Create(&utxo.UTXO{
			Outpoint:  types.Outpoint{TxID: txHash, Index: uint32(i)},
			Value:     out.Value,
			Script:    out.Script,
			Height:    height,
			Coinbase:  coinbase,
			Confirmed: true,
		})
	}
}

// MedianTimestamp returns the median of the given timestamps.
func MedianTimestamp(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}
	sorted := make([]uint64, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
