package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock      = []byte("b/") // b/<hash(32)> -> block JSON
	prefixHeight     = []byte("h/") // h/<height(8)> -> hash(32)
	prefixTx         = []byte("x/") // x/<txhash(32)> -> height(8) + blockHash(32)
	prefixUndo       = []byte("d/") // d/<hash(32)> -> undo data JSON
	prefixCheckpoint = []byte("c/") // c/<height(8)> -> checkpoint JSON
	keyTipHash       = []byte("s/tip")
	keyHeight        = []byte("s/height")
)

// ErrBlockNotFound is returned for lookups of unknown blocks.
var ErrBlockNotFound = errors.New("block not found")

// BlockStore persists blocks, indexes, undo data, and chain metadata to a
// storage.DB.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// StoreBlock stores a block by its hash only, without height or tx indexes.
// Used for fork blocks that are not (yet) on the active chain.
func (bs *BlockStore) StoreBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	if err := bs.db.Put(blockKey(blk.Hash()), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	return nil
}

// ConnectBlock atomically persists a block onto the active chain: block
// data, height index, per-transaction index, undo data, and the new tip.
func (bs *BlockStore) ConnectBlock(blk *block.Block, height uint64, undoData []byte) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	hash := blk.Hash()

	batch := bs.newBatch()
	if err := batch.Put(blockKey(hash), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := batch.Put(heightKey(height), hash[:]); err != nil {
		return fmt.Errorf("height index put: %w", err)
	}
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(val[:8], height)
		copy(val[8:], hash[:])
		if err := batch.Put(txKey(txHash), val); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}
	if undoData != nil {
		if err := batch.Put(undoKey(hash), undoData); err != nil {
			return fmt.Errorf("undo put: %w", err)
		}
	}
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	if err := batch.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("set tip hash: %w", err)
	}
	if err := batch.Put(keyHeight, heightBuf[:]); err != nil {
		return fmt.Errorf("set tip height: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit block %s: %w", hash, err)
	}
	return nil
}

// DisconnectBlock removes a block's active-chain indexes (the block data
// itself is kept for possible re-connection).
func (bs *BlockStore) DisconnectBlock(blk *block.Block, height uint64) error {
	batch := bs.newBatch()
	if err := batch.Delete(heightKey(height)); err != nil {
		return fmt.Errorf("height index delete: %w", err)
	}
	for _, t := range blk.Transactions {
		if err := batch.Delete(txKey(t.Hash())); err != nil {
			return fmt.Errorf("tx index delete: %w", err)
		}
	}
	if err := batch.Delete(undoKey(blk.Hash())); err != nil {
		return fmt.Errorf("undo delete: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("disconnect block %s: %w", blk.Hash(), err)
	}
	return nil
}

// newBatch returns an atomic batch when the backend supports one, or a
// write-through shim otherwise.
func (bs *BlockStore) newBatch() storage.Batch {
	if batcher, ok := bs.db.(storage.Batcher); ok {
		return batcher.NewBatch()
	}
	return writeThroughBatch{db: bs.db}
}

type writeThroughBatch struct {
	db storage.DB
}

func (w writeThroughBatch) Put(key, value []byte) error { return w.db.Put(key, value) }
func (w writeThroughBatch) Delete(key []byte) error     { return w.db.Delete(key) }
func (w writeThroughBatch) Commit() error               { return nil }

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// GetBlockByHeight retrieves the active-chain block at a height.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashBytes, err := bs.db.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return nil, fmt.Errorf("height index get: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(hashBytes), types.HashSize)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return bs.GetBlock(hash)
}

// HasBlock checks if a block exists by hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// PutHeightIndex writes an active-chain height index entry directly.
// Used by WAL recovery to replay journaled index writes.
func (bs *BlockStore) PutHeightIndex(height uint64, hash types.Hash) error {
	if err := bs.db.Put(heightKey(height), hash[:]); err != nil {
		return fmt.Errorf("height index put: %w", err)
	}
	return nil
}

// GetUndo loads the undo data stored for a block.
func (bs *BlockStore) GetUndo(hash types.Hash) ([]byte, error) {
	data, err := bs.db.Get(undoKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: undo for %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("undo get: %w", err)
	}
	return data, nil
}

// SetTip persists the chain tip pointer directly. Normal connects update
// the tip atomically inside ConnectBlock; this is for WAL recovery.
func (bs *BlockStore) SetTip(hash types.Hash, height uint64) error {
	if err := bs.db.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("set tip hash: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	if err := bs.db.Put(keyHeight, buf[:]); err != nil {
		return fmt.Errorf("set tip height: %w", err)
	}
	return nil
}

// GetTip returns the persisted chain tip hash and height.
// Returns zero values if no tip is set (fresh chain).
func (bs *BlockStore) GetTip() (types.Hash, uint64, error) {
	hashBytes, err := bs.db.Get(keyTipHash)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, 0, nil // No tip yet.
	}
	if err != nil {
		return types.Hash{}, 0, fmt.Errorf("tip get: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return types.Hash{}, 0, fmt.Errorf("corrupt tip hash: got %d bytes", len(hashBytes))
	}

	heightBytes, err := bs.db.Get(keyHeight)
	if err != nil {
		return types.Hash{}, 0, fmt.Errorf("tip height missing: %w", err)
	}
	if len(heightBytes) != 8 {
		return types.Hash{}, 0, fmt.Errorf("corrupt tip height: got %d bytes", len(heightBytes))
	}

	var hash types.Hash
	copy(hash[:], hashBytes)
	return hash, binary.BigEndian.Uint64(heightBytes), nil
}

// GetTxLocation returns the block height and hash containing a transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	data, err := bs.db.Get(txKey(txHash))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, types.Hash{}, fmt.Errorf("%w: tx %s", ErrBlockNotFound, txHash)
	}
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 8+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), 8+types.HashSize)
	}
	height := binary.BigEndian.Uint64(data[:8])
	var blockHash types.Hash
	copy(blockHash[:], data[8:])
	return height, blockHash, nil
}

// PutCheckpoint persists a checkpoint by height.
func (bs *BlockStore) PutCheckpoint(cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint marshal: %w", err)
	}
	if err := bs.db.Put(checkpointKey(cp.Height), data); err != nil {
		return fmt.Errorf("checkpoint put: %w", err)
	}
	return nil
}

// Checkpoints loads all persisted checkpoints.
func (bs *BlockStore) Checkpoints() ([]Checkpoint, error) {
	var out []Checkpoint
	err := bs.db.ForEach(prefixCheckpoint, func(_, value []byte) error {
		var cp Checkpoint
		if err := json.Unmarshal(value, &cp); err != nil {
			return fmt.Errorf("checkpoint unmarshal: %w", err)
		}
		out = append(out, cp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}

func undoKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], hash[:])
	return key
}

func checkpointKey(height uint64) []byte {
	key := make([]byte, len(prefixCheckpoint)+8)
	copy(key, prefixCheckpoint)
	binary.BigEndian.PutUint64(key[len(prefixCheckpoint):], height)
	return key
}
