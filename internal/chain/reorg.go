package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// ErrReorgTooDeep is returned when switching branches would disconnect
// more than MaxForkLength blocks.
var ErrReorgTooDeep = errors.New("reorganization exceeds maximum fork length")

// disconnectedBlock remembers a block removed from the active chain so a
// failed reorg can re-apply it.
type disconnectedBlock struct {
	blk    *block.Block
	height uint64
	undo   BlockUndo
}

// reorg atomically switches the active chain to newTip. The caller holds
// c.mu; only one disconnect/connect sequence is ever in flight.
//
// Disconnect and connect both run inside a WAL batch: a crash mid-reorg
// leaves an uncommitted batch that recovery discards, and a mid-connect
// validation failure rolls the chain back to its previous tip.
func (c *Chain) reorg(newTip types.Hash, newHeight, ancestorHeight uint64) error {
	oldHeight := c.state.Height()
	oldTip := c.state.TipHash()

	if oldHeight-ancestorHeight > c.params.MaxForkLength {
		return fmt.Errorf("%w: would disconnect %d blocks, max %d",
			ErrReorgTooDeep, oldHeight-ancestorHeight, c.params.MaxForkLength)
	}

	branch, err := c.collectBranch(newTip, ancestorHeight)
	if err != nil {
		return err
	}

	batchID, err := c.journal.StartBatch()
	if err != nil {
		return fmt.Errorf("start reorg batch: %w", err)
	}

	log.Chain.Info().
		Uint64("old_height", oldHeight).
		Uint64("new_height", newHeight).
		Uint64("ancestor", ancestorHeight).
		Str("new_tip", newTip.String()).
		Msg("reorganizing")

	// Disconnect the losing branch, tip first.
	var oldBlocks []disconnectedBlock
	for h := oldHeight; h > ancestorHeight; h-- {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}
		undoBytes, err := c.blocks.GetUndo(blk.Hash())
		if err != nil {
			return fmt.Errorf("load undo at height %d: %w", h, err)
		}
		var undo BlockUndo
		if err := json.Unmarshal(undoBytes, &undo); err != nil {
			return fmt.Errorf("decode undo at height %d: %w", h, err)
		}

		if err := c.disconnectBlock(blk, h, &undo); err != nil {
			return err
		}
		oldBlocks = append(oldBlocks, disconnectedBlock{blk: blk, height: h, undo: undo})
	}

	ancestorHash, ok := c.state.HashAtHeight(ancestorHeight)
	if !ok {
		return fmt.Errorf("active chain has no block at ancestor height %d", ancestorHeight)
	}
	c.state.SetTip(ancestorHash, ancestorHeight)

	// Connect the winning branch, ancestor+1 upward, with full validation.
	var connected []disconnectedBlock
	for i, blk := range branch {
		h := ancestorHeight + 1 + uint64(i)
		if err := c.connectBlock(blk, h); err != nil {
			connectErr := fmt.Errorf("connect height %d (%s): %w", h, blk.Hash(), err)
			if isConsensusError(err) {
				c.invalid.MarkInvalid(blk.Hash(), blk.Header.PrevHash, err.Error(), true)
			}
			if rbErr := c.rollbackReorg(connected, oldBlocks, ancestorHash, ancestorHeight); rbErr != nil {
				return fmt.Errorf("%v; rollback failed: %w", connectErr, rbErr)
			}
			if err := c.journal.RollbackBatch(batchID); err != nil {
				log.Chain.Error().Err(err).Msg("journal rollback record failed")
			}
			return connectErr
		}
		undoBytes, _ := c.blocks.GetUndo(blk.Hash())
		var undo BlockUndo
		_ = json.Unmarshal(undoBytes, &undo)
		connected = append(connected, disconnectedBlock{blk: blk, height: h, undo: undo})
	}

	if err := c.journal.CommitBatch(batchID); err != nil {
		return fmt.Errorf("commit reorg batch: %w", err)
	}

	// Bookkeeping: the fork became the active chain; the old tip becomes a
	// tracked fork.
	c.state.ForgetFork(newTip)
	c.state.TrackFork(oldTip, ancestorHeight)

	// Hand transactions from the losing branch back to the mempool,
	// excluding any the new branch confirmed.
	c.returnRevertedTxs(oldBlocks, branch)

	log.Chain.Info().
		Uint64("height", newHeight).
		Str("tip", newTip.String()).
		Int("disconnected", len(oldBlocks)).
		Int("connected", len(branch)).
		Msg("reorganization complete")
	return nil
}

// collectBranch loads the fork blocks from newTip down to the ancestor,
// returning them in ascending height order.
func (c *Chain) collectBranch(newTip types.Hash, ancestorHeight uint64) ([]*block.Block, error) {
	var branch []*block.Block
	cur := newTip
	for {
		height, ok := c.state.HeaderHeight(cur)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, cur)
		}
		if height == ancestorHeight {
			break
		}
		blk, err := c.blocks.GetBlock(cur)
		if err != nil {
			return nil, fmt.Errorf("load branch block %s: %w", cur, err)
		}
		branch = append(branch, blk)
		cur = blk.Header.PrevHash
	}
	// Reverse to ascending order.
	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}
	return branch, nil
}

// disconnectBlock reverses a block's transactions (in reverse block order)
// and removes its active-chain indexes.
func (c *Chain) disconnectBlock(blk *block.Block, height uint64, undo *BlockUndo) error {
	if len(undo.TxUndos) != len(blk.Transactions) {
		return fmt.Errorf("undo mismatch for %s: %d undos, %d txs", blk.Hash(), len(undo.TxUndos), len(blk.Transactions))
	}
	for i := len(blk.Transactions) - 1; i >= 0; i-- {
		if err := c.utxos.ReverseTransaction(blk.Transactions[i], undo.TxUndos[i].Spent); err != nil {
			return fmt.Errorf("reverse tx %d of %s: %w", i, blk.Hash(), err)
		}
	}
	if err := c.blocks.DisconnectBlock(blk, height); err != nil {
		return err
	}
	return nil
}

// rollbackReorg restores the pre-reorg chain after a mid-connect failure:
// the blocks connected so far are reversed and the disconnected blocks are
// re-applied, so the tip never leaves a valid state.
func (c *Chain) rollbackReorg(connected, oldBlocks []disconnectedBlock, ancestorHash types.Hash, ancestorHeight uint64) error {
	for i := len(connected) - 1; i >= 0; i-- {
		d := connected[i]
		if err := c.disconnectBlock(d.blk, d.height, &d.undo); err != nil {
			return fmt.Errorf("unwind connected block at height %d: %w", d.height, err)
		}
	}
	c.state.SetTip(ancestorHash, ancestorHeight)

	// oldBlocks were collected tip-first; re-apply ascending.
	for i := len(oldBlocks) - 1; i >= 0; i-- {
		d := oldBlocks[i]
		if err := c.applyBlock(d.blk, d.height); err != nil {
			return fmt.Errorf("re-apply block at height %d: %w", d.height, err)
		}
	}
	return nil
}

// returnRevertedTxs hands disconnected transactions that the new branch did
// not confirm back to the mempool.
func (c *Chain) returnRevertedTxs(oldBlocks []disconnectedBlock, branch []*block.Block) {
	if c.revertedHandler == nil || len(oldBlocks) == 0 {
		return
	}

	inNewBranch := make(map[types.Hash]bool)
	for _, blk := range branch {
		for _, t := range blk.Transactions {
			inNewBranch[t.Hash()] = true
		}
	}

	var reverted []*tx.Transaction
	for _, d := range oldBlocks {
		for i, t := range d.blk.Transactions {
			if i == 0 {
				continue // Coinbase cannot return to the mempool.
			}
			if !inNewBranch[t.Hash()] {
				reverted = append(reverted, t)
			}
		}
	}
	if len(reverted) > 0 {
		c.revertedHandler(reverted)
	}
}
