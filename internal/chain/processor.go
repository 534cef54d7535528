package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/validation"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/work"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Block processing errors.
var (
	ErrUnknownParent = errors.New("previous block not found")
	ErrKnownInvalid  = errors.New("block is known invalid")
	ErrBadGenesis    = errors.New("genesis block mismatch")
)

// ForkPolicy selects how competing tips are resolved.
type ForkPolicy int

// Fork policies. MostWork is the consensus default; the alternatives are
// operational knobs that never weaken the reorg invariants.
const (
	MostWork ForkPolicy = iota
	MostBlocks
	FirstSeen
)

// ConnectedTxHandler is called with the transactions of each block that
// joins the active chain (for mempool eviction).
type ConnectedTxHandler func(txs []*tx.Transaction)

// RevertedTxHandler is called after a reorg with transactions from
// disconnected blocks that are absent from the new branch (for mempool
// re-admission).
type RevertedTxHandler func(txs []*tx.Transaction)

// TxUndo captures the entries one transaction spent.
type TxUndo struct {
	Spent []utxo.UTXO `json:"spent"`
}

// BlockUndo captures everything needed to reverse a block's UTXO effects.
type BlockUndo struct {
	TxUndos []TxUndo `json:"tx_undos"`
}

// Chain turns peer-supplied blocks into a durable, uniquely-defined chain
// state. All mutations serialize on a single mutex; only one reorg can be
// in flight.
type Chain struct {
	mu sync.Mutex

	params    config.Consensus
	policy    ForkPolicy
	state     *State
	blocks    *BlockStore
	utxos     *utxo.AtomicSet
	validator *validation.Validator
	resolver  *work.ForkResolver
	invalid   *InvalidBlockTracker
	orphans   *OrphanPool
	journal   Journal
	clock     func() time.Time

	connectedHandler ConnectedTxHandler
	revertedHandler  RevertedTxHandler
}

// New creates a chain over the given storage, recovering any persisted tip.
func New(params config.Consensus, db storage.DB, utxos *utxo.AtomicSet, journal Journal) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if utxos == nil {
		return nil, fmt.Errorf("utxo set is nil")
	}
	if journal == nil {
		journal = NopJournal{}
	}

	c := &Chain{
		params:    params,
		policy:    MostWork,
		state:     NewState(params.MaxForkLength),
		blocks:    NewBlockStore(db),
		utxos:     utxos,
		validator: validation.New(params),
		resolver:  work.NewForkResolver(work.DefaultMaxDepth),
		invalid:   NewInvalidBlockTracker(DefaultMaxInvalidAttempts, DefaultMaxInvalidEntries),
		orphans:   NewOrphanPool(DefaultMaxOrphans, DefaultOrphanExpiry),
		journal:   journal,
		clock:     time.Now,
	}

	if err := c.loadState(); err != nil {
		return nil, fmt.Errorf("recover chain state: %w", err)
	}
	return c, nil
}

// SetForkPolicy selects the fork resolution policy.
func (c *Chain) SetForkPolicy(policy ForkPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

// SetConnectedTxHandler sets the callback fired with each connected block's
// transactions.
func (c *Chain) SetConnectedTxHandler(fn ConnectedTxHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectedHandler = fn
}

// SetRevertedTxHandler sets the callback fired with transactions returned
// to the mempool by a reorg.
func (c *Chain) SetRevertedTxHandler(fn RevertedTxHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revertedHandler = fn
}

// loadState rebuilds the in-memory index from storage.
func (c *Chain) loadState() error {
	tipHash, height, err := c.blocks.GetTip()
	if err != nil {
		return err
	}
	if tipHash.IsZero() {
		return nil // Fresh chain.
	}

	for h := uint64(0); h <= height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}
		hash := blk.Hash()
		c.state.AddHeader(hash, blk.Header, h)
		c.state.MarkProcessed(hash)
	}
	c.state.SetTip(tipHash, height)

	cps, err := c.blocks.Checkpoints()
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	for _, cp := range cps {
		c.state.AddCheckpoint(cp)
	}
	return nil
}

// ProcessBlock validates a block and applies it to the chain. Returns
// whether a reorganization switched the active tip.
//
// Duplicate blocks are a no-op. Structurally or contextually invalid
// blocks are rejected and tracked; descendants of permanently invalid
// blocks are rejected outright. Blocks whose parent is unknown are held
// as orphans (still reported via ErrUnknownParent) and retried when the
// parent arrives.
func (c *Chain) ProcessBlock(blk *block.Block) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blk == nil || blk.Header == nil {
		return false, fmt.Errorf("nil block or header")
	}

	reorged, err := c.processLocked(blk)
	if errors.Is(err, ErrUnknownParent) {
		c.orphans.Add(blk)
		return false, err
	}
	if err != nil {
		return false, err
	}

	// The new block may be the missing parent of pooled orphans.
	if c.drainOrphans(blk.Hash()) {
		reorged = true
	}
	return reorged, nil
}

// drainOrphans retries orphans transitively unblocked by the given hash.
// Returns whether any of them caused a reorganization.
func (c *Chain) drainOrphans(accepted types.Hash) bool {
	reorged := false
	queue := []types.Hash{accepted}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range c.orphans.TakeChildren(parent) {
			r, err := c.processLocked(child)
			if err != nil {
				log.Chain.Debug().Err(err).Str("hash", child.Hash().String()).Msg("orphan rejected on retry")
				continue
			}
			if r {
				reorged = true
			}
			queue = append(queue, child.Hash())
		}
	}
	return reorged
}

// processLocked runs the process-block state machine. The caller holds
// c.mu.
func (c *Chain) processLocked(blk *block.Block) (bool, error) {
	hash := blk.Hash()

	if c.state.IsProcessed(hash) {
		return false, nil
	}
	if c.invalid.IsPermanentlyInvalid(hash) {
		return false, fmt.Errorf("%w: %s", ErrKnownInvalid, hash)
	}

	// Phase 1: structure. Failures here are permanent.
	if err := c.validator.ValidateBlock(blk); err != nil {
		c.invalid.MarkInvalid(hash, blk.Header.PrevHash, err.Error(), true)
		return false, err
	}

	// Genesis bootstrap.
	if c.state.IsEmpty() {
		if !blk.Header.PrevHash.IsZero() {
			return false, fmt.Errorf("%w: %s", ErrUnknownParent, blk.Header.PrevHash)
		}
		if err := c.connectBlock(blk, 0); err != nil {
			return false, err
		}
		c.state.MarkProcessed(hash)
		log.Chain.Info().Str("hash", hash.String()).Msg("genesis connected")
		return false, nil
	}

	parent := blk.Header.PrevHash

	// Descendants of permanently invalid blocks are permanently invalid.
	if c.invalid.IsPermanentlyInvalid(parent) {
		c.invalid.MarkInvalid(hash, parent, "extends permanently invalid block", true)
		return false, fmt.Errorf("%w: parent %s", ErrKnownInvalid, parent)
	}

	parentHeight, ok := c.state.HeaderHeight(parent)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParent, parent)
	}
	height := parentHeight + 1

	c.resolver.RecordObservation(hash)

	// Fast path: the block extends the active tip.
	if parent == c.state.TipHash() {
		if err := c.connectBlock(blk, height); err != nil {
			permanent := isConsensusError(err)
			c.invalid.MarkInvalid(hash, parent, err.Error(), permanent)
			return false, err
		}
		c.state.MarkProcessed(hash)
		log.Chain.Info().Uint64("height", height).Str("hash", hash.String()).Msg("block connected")
		return false, nil
	}

	// Fork path: store the block, track the fork, maybe reorganize.
	reorged, err := c.processFork(blk, hash, height)
	if err != nil {
		return false, err
	}
	c.state.MarkProcessed(hash)
	return reorged, nil
}

// processFork handles a valid block whose parent is not the current tip.
func (c *Chain) processFork(blk *block.Block, hash types.Hash, height uint64) (bool, error) {
	if err := c.blocks.StoreBlock(blk); err != nil {
		return false, fmt.Errorf("store fork block: %w", err)
	}
	c.state.AddHeader(hash, blk.Header, height)

	ancestorHeight, err := c.findForkAncestor(blk.Header)
	if err != nil {
		return false, err
	}

	pruned := c.state.TrackFork(hash, ancestorHeight)
	for _, p := range pruned {
		c.resolver.ForgetObservations(p)
	}

	better, err := c.shouldReorg(hash, height)
	if err != nil {
		return false, fmt.Errorf("compare fork %s: %w", hash, err)
	}
	if !better {
		log.Chain.Debug().Uint64("height", height).Str("hash", hash.String()).Msg("fork stored, tip unchanged")
		return false, nil
	}

	if err := c.reorg(hash, height, ancestorHeight); err != nil {
		return false, err
	}
	return true, nil
}

// shouldReorg decides whether the fork tip beats the active tip under the
// configured policy.
func (c *Chain) shouldReorg(newTip types.Hash, newHeight uint64) (bool, error) {
	switch c.policy {
	case MostBlocks:
		return newHeight > c.state.Height(), nil
	case FirstSeen:
		return false, nil
	default: // MostWork
		cmp, err := c.resolver.CompareChains(newTip, c.state.TipHash(), c.state)
		if err != nil {
			return false, err
		}
		return cmp > 0, nil
	}
}

// findForkAncestor walks a fork branch back to the active chain and returns
// the common ancestor height. Walking deeper than the fork horizon fails
// with ErrReorgTooDeep.
func (c *Chain) findForkAncestor(header *block.Header) (uint64, error) {
	cur := header.PrevHash
	for depth := uint64(0); depth <= c.params.MaxForkLength; depth++ {
		if c.state.IsActive(cur) {
			h, _ := c.state.HeaderHeight(cur)
			return h, nil
		}
		hdr, err := c.state.GetHeader(cur)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrUnknownParent, cur)
		}
		if hdr.PrevHash.IsZero() {
			return 0, fmt.Errorf("%w: fork does not share genesis", ErrBadGenesis)
		}
		cur = hdr.PrevHash
	}
	return 0, fmt.Errorf("%w: no common ancestor within %d blocks", ErrReorgTooDeep, c.params.MaxForkLength)
}

// connectBlock validates a block contextually and applies it as the new
// tip. The caller holds c.mu.
func (c *Chain) connectBlock(blk *block.Block, height uint64) error {
	ctx, err := c.contextFor(blk.Header, height)
	if err != nil {
		return err
	}
	ctx.View = newOverlayView(c.utxos.Set())

	if _, err := c.validator.ValidateContextual(blk, ctx); err != nil {
		return err
	}
	return c.applyBlock(blk, height)
}

// applyBlock applies a validated block's transactions and persists it as
// the new tip, journaling every mutation first.
func (c *Chain) applyBlock(blk *block.Block, height uint64) error {
	hash := blk.Hash()

	undo := BlockUndo{TxUndos: make([]TxUndo, 0, len(blk.Transactions))}
	for i, transaction := range blk.Transactions {
		spent, err := c.utxos.ApplyTransaction(transaction, height, i == 0)
		if err != nil {
			// Unwind the transactions applied so far.
			for j := i - 1; j >= 0; j-- {
				if revErr := c.utxos.ReverseTransaction(blk.Transactions[j], undo.TxUndos[j].Spent); revErr != nil {
					return fmt.Errorf("apply tx %d: %v; unwind tx %d: %w", i, err, j, revErr)
				}
			}
			return fmt.Errorf("apply tx %d: %w", i, err)
		}
		undo.TxUndos = append(undo.TxUndos, TxUndo{Spent: spent})
	}

	undoBytes, err := json.Marshal(&undo)
	if err != nil {
		return fmt.Errorf("marshal undo: %w", err)
	}
	blockBytes, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}

	// Journal before the storage mutation becomes visible.
	if err := c.journal.LogBlockWrite(hash, height, blockBytes); err != nil {
		return fmt.Errorf("journal block: %w", err)
	}
	if err := c.journal.LogHeightIndex(height, hash); err != nil {
		return fmt.Errorf("journal height index: %w", err)
	}

	if err := c.blocks.ConnectBlock(blk, height, undoBytes); err != nil {
		return err
	}

	c.state.AddHeader(hash, blk.Header, height)
	c.state.SetTip(hash, height)

	if c.params.CheckpointInterval > 0 && height > 0 && height%c.params.CheckpointInterval == 0 {
		cp := Checkpoint{Height: height, Hash: hash, Timestamp: uint64(c.clock().Unix())}
		if err := c.journal.AppendCheckpoint(height, hash); err != nil {
			return fmt.Errorf("journal checkpoint: %w", err)
		}
		if err := c.blocks.PutCheckpoint(cp); err != nil {
			return err
		}
		c.state.AddCheckpoint(cp)
	}

	if c.connectedHandler != nil {
		c.connectedHandler(blk.Transactions)
	}
	return nil
}

// contextFor builds the validation context for a block at the given height
// whose parent is header.PrevHash.
func (c *Chain) contextFor(header *block.Header, height uint64) (*validation.Context, error) {
	ctx := &validation.Context{Height: height, Now: c.clock}

	if height == 0 {
		ctx.ExpectedBits = c.params.GenesisBits
		return ctx, nil
	}

	parentHdr, err := c.state.GetHeader(header.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParent, header.PrevHash)
	}

	// Median-time-past window: up to MedianTimeSpan ancestor timestamps.
	span := c.params.MedianTimeSpan
	timestamps := make([]uint64, 0, span)
	cur := parentHdr
	for i := 0; i < span; i++ {
		timestamps = append(timestamps, cur.Timestamp)
		if cur.PrevHash.IsZero() {
			break
		}
		cur, err = c.state.GetHeader(cur.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("median window: %w", err)
		}
	}
	// Oldest first.
	for i, j := 0, len(timestamps)-1; i < j; i, j = i+1, j-1 {
		timestamps[i], timestamps[j] = timestamps[j], timestamps[i]
	}
	ctx.PrevTimestamps = timestamps

	// Expected difficulty: retarget boundaries need the window's bracketing
	// timestamps along this branch.
	var firstTS, lastTS uint64
	if interval := c.params.AdjustInterval; interval > 0 && height%interval == 0 {
		lastTS = parentHdr.Timestamp
		first, err := c.ancestorHeader(parentHdr, interval-1)
		if err != nil {
			return nil, fmt.Errorf("retarget window: %w", err)
		}
		firstTS = first.Timestamp
	}
	bits, err := c.validator.NextBits(height, parentHdr.Bits, firstTS, lastTS)
	if err != nil {
		return nil, err
	}
	ctx.ExpectedBits = bits

	// Without a retarget schedule there is no difficulty to pin: accept the
	// stated target (proof of work is still enforced against it).
	if c.params.AdjustInterval == 0 {
		ctx.ExpectedBits = header.Bits
	}

	return ctx, nil
}

// ancestorHeader walks n steps back from the given header.
func (c *Chain) ancestorHeader(hdr *block.Header, n uint64) (*block.Header, error) {
	cur := hdr
	for i := uint64(0); i < n; i++ {
		if cur.PrevHash.IsZero() {
			return cur, nil // Clamp at genesis.
		}
		var err error
		cur, err = c.state.GetHeader(cur.PrevHash)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// isConsensusError reports whether a connect failure is a permanent
// consensus violation rather than transient local state.
func isConsensusError(err error) bool {
	return errors.Is(err, validation.ErrInvalidStructure) ||
		errors.Is(err, validation.ErrInvalidMerkleRoot) ||
		errors.Is(err, validation.ErrNoCoinbase) ||
		errors.Is(err, validation.ErrMultipleCoinbase) ||
		errors.Is(err, validation.ErrInvalidTimestamp) ||
		errors.Is(err, validation.ErrDifficultyMismatch) ||
		errors.Is(err, validation.ErrInvalidPoW) ||
		errors.Is(err, validation.ErrInvalidSubsidy) ||
		errors.Is(err, validation.ErrInvalidTransaction)
}
