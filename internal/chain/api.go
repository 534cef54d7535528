package chain

import (
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Height returns the active chain height.
func (c *Chain) Height() uint64 {
	return c.state.Height()
}

// TipHash returns the active tip hash.
func (c *Chain) TipHash() types.Hash {
	return c.state.TipHash()
}

// GetHeader resolves a header by hash.
func (c *Chain) GetHeader(hash types.Hash) (*block.Header, error) {
	return c.state.GetHeader(hash)
}

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves the active-chain block at a height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// GetUTXO resolves an unspent output.
func (c *Chain) GetUTXO(outpoint types.Outpoint) (*utxo.UTXO, error) {
	return c.utxos.Set().Get(outpoint)
}

// GetForks returns the tracked fork tips and their common ancestor heights.
func (c *Chain) GetForks() map[types.Hash]uint64 {
	return c.state.Forks()
}

// GetCheckpoints returns all checkpoints in ascending height order.
func (c *Chain) GetCheckpoints() []Checkpoint {
	return c.state.Checkpoints()
}

// GetTransaction looks up a confirmed transaction via the tx index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}

// InvalidBlocks returns the invalid-block tracker for callers that drive
// peer scoring.
func (c *Chain) InvalidBlocks() *InvalidBlockTracker {
	return c.invalid
}
