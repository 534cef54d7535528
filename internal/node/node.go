// Package node wires the core subsystems (storage, write-ahead log, chain
// state, mempool, lightning timing) into an embeddable node.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/chain"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/lightning"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/mempool"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/wal"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/block"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Node is a fully-initialized Supernova core node.
type Node struct {
	cfg *config.Config

	db        storage.DB
	journal   *wal.WAL
	utxoStore *utxo.Store
	ch        *chain.Chain
	pool      *mempool.Pool
	payments  *lightning.PaymentProcessor
	shutdown  *wal.ShutdownManager

	writes sync.WaitGroup // In-flight write tracking for shutdown drain.

	// Broadcast hooks, fired after a block or transaction is accepted.
	// The network layer installs these; nil hooks are skipped.
	broadcastBlock func(*block.Block)
	broadcastTx    func(*tx.Transaction)
}

// Open assembles a node over the configured data directory, running WAL
// recovery first when the previous run did not shut down cleanly.
func Open(cfg *config.Config) (*Node, error) {
	db, err := storage.NewBadger(filepath.Join(cfg.DataDir, "chainstate"))
	if err != nil {
		return nil, err
	}
	n, err := openWith(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

// openWith builds the node over an existing database. Split from Open so
// tests can inject an in-memory store.
func openWith(cfg *config.Config, db storage.DB) (*Node, error) {
	journal, err := wal.Open(cfg.WAL.Dir, cfg.WAL.MaxFileSize)
	if err != nil {
		return nil, err
	}

	utxoStore := utxo.NewStore(db)
	blockStore := chain.NewBlockStore(db)

	// Crash recovery: replay the journal before anything reads state.
	needsRecovery, err := wal.NeedsRecovery(db)
	if err != nil {
		return nil, err
	}
	if needsRecovery {
		log.Node.Warn().Msg("unclean shutdown detected, replaying write-ahead log")
		var tip *wal.Record
		stats, err := wal.Replay(cfg.WAL.Dir, recoveryApplier(db, utxoStore, blockStore, &tip))
		if err != nil {
			return nil, fmt.Errorf("wal recovery: %w", err)
		}
		// The last replayed height-index record names the recovered tip.
		if tip != nil {
			if err := blockStore.SetTip(tip.Hash, tip.Height); err != nil {
				return nil, fmt.Errorf("restore tip: %w", err)
			}
		}
		log.Node.Info().
			Int("records", stats.TotalRecords).
			Int("applied", stats.Applied).
			Int("discarded_batches", stats.DiscardedBatches).
			Msg("wal recovery complete")
		if err := journal.Rotate(); err != nil {
			return nil, fmt.Errorf("archive recovered wal: %w", err)
		}
	}
	// The clean marker only ever certifies the previous run.
	if err := wal.ClearRecoveryFlags(db); err != nil {
		return nil, err
	}

	atomicSet := utxo.NewAtomicSet(utxoStore, utxo.NewLockManager(), journal)
	ch, err := chain.New(cfg.Consensus, db, atomicSet, journal)
	if err != nil {
		return nil, err
	}

	pool := mempool.New(cfg.Mempool, &storeProvider{store: utxoStore})
	pool.SetCoinbaseMaturity(cfg.Consensus.CoinbaseMaturity, ch.Height, utxoStore)

	ch.SetConnectedTxHandler(pool.RemoveConfirmed)
	ch.SetRevertedTxHandler(func(txs []*tx.Transaction) {
		for _, t := range txs {
			if _, err := pool.Add(t, ""); err != nil {
				log.Node.Debug().Err(err).Str("tx", t.Hash().String()).Msg("reverted tx not re-admitted")
			}
		}
	})

	payments := lightning.NewPaymentProcessor(cfg.Lightning)
	if err := payments.SetStore(storage.NewPrefixDB(db, []byte("ln/"))); err != nil {
		return nil, fmt.Errorf("load lightning state: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		db:        db,
		journal:   journal,
		utxoStore: utxoStore,
		ch:        ch,
		pool:      pool,
		payments:  payments,
	}

	sm := wal.NewShutdownManager(db, journal, wal.ShutdownConfig{
		OperationTimeout: cfg.WAL.OperationTimeout,
		GracePeriod:      cfg.WAL.GracePeriod,
	})
	sm.WaitInFlight = n.waitInFlight
	sm.VerifyIntegrity = n.verifyIntegrity
	n.shutdown = sm

	return n, nil
}

// recoveryApplier maps journal records onto storage. Each application is
// idempotent: puts overwrite and deletes tolerate absence.
func recoveryApplier(db storage.DB, utxoStore *utxo.Store, blockStore *chain.BlockStore, lastHeightRecord **wal.Record) func(*wal.Record) error {
	return func(rec *wal.Record) error {
		switch rec.Type {
		case wal.RecordUtxoWrite:
			var u utxo.UTXO
			if err := json.Unmarshal(rec.Data, &u); err != nil {
				return fmt.Errorf("decode utxo record %d: %w", rec.Sequence, err)
			}
			return utxoStore.Put(&u)
		case wal.RecordUtxoDelete:
			if rec.Outpoint == nil {
				return fmt.Errorf("utxo delete record %d has no outpoint", rec.Sequence)
			}
			return utxoStore.Delete(*rec.Outpoint)
		case wal.RecordBlockWrite:
			var blk block.Block
			if err := json.Unmarshal(rec.Data, &blk); err != nil {
				return fmt.Errorf("decode block record %d: %w", rec.Sequence, err)
			}
			return blockStore.StoreBlock(&blk)
		case wal.RecordHeightIndexWrite:
			*lastHeightRecord = rec
			return blockStore.PutHeightIndex(rec.Height, rec.Hash)
		case wal.RecordMetadataWrite:
			return storage.StoreMetadata(db, rec.Key, rec.Data)
		default:
			return nil // Transaction index entries are rebuilt on connect.
		}
	}
}

// storeProvider adapts the UTXO store to the mempool's provider interface.
type storeProvider struct {
	store *utxo.Store
}

func (sp *storeProvider) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	u, err := sp.store.Get(op)
	if err != nil {
		return 0, types.Script{}, err
	}
	return u.Value, u.Script, nil
}

func (sp *storeProvider) HasUTXO(op types.Outpoint) bool {
	has, err := sp.store.Has(op)
	return err == nil && has
}

// Chain exposes the chain state manager.
func (n *Node) Chain() *chain.Chain {
	return n.ch
}

// Mempool exposes the transaction pool.
func (n *Node) Mempool() *mempool.Pool {
	return n.pool
}

// Payments exposes the lightning payment processor.
func (n *Node) Payments() *lightning.PaymentProcessor {
	return n.payments
}

// SetBlockBroadcastHook installs the callback fired when a block is
// accepted onto the chain.
func (n *Node) SetBlockBroadcastHook(fn func(*block.Block)) {
	n.broadcastBlock = fn
}

// SetTxBroadcastHook installs the callback fired when a transaction is
// admitted to the mempool.
func (n *Node) SetTxBroadcastHook(fn func(*tx.Transaction)) {
	n.broadcastTx = fn
}

// ProcessBlock hands a peer-supplied block to the chain. Returns whether a
// reorganization occurred.
func (n *Node) ProcessBlock(blk *block.Block) (bool, error) {
	n.writes.Add(1)
	defer n.writes.Done()
	reorged, err := n.ch.ProcessBlock(blk)
	if err == nil && n.broadcastBlock != nil {
		n.broadcastBlock(blk)
	}
	return reorged, err
}

// AddTransaction admits a transaction from the given peer ("" for local).
func (n *Node) AddTransaction(transaction *tx.Transaction, peerID string) (uint64, error) {
	fee, err := n.pool.Add(transaction, peerID)
	if err == nil && n.broadcastTx != nil {
		n.broadcastTx(transaction)
	}
	return fee, err
}

// SweepExpiredHTLCs runs the lightning expiry sweep at the current chain
// height.
func (n *Node) SweepExpiredHTLCs() []uint64 {
	return n.payments.SweepExpired(uint32(n.ch.Height()))
}

// waitInFlight blocks until outstanding writes drain or the context ends.
func (n *Node) waitInFlight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// verifyIntegrity runs the quick consistency check of the shutdown
// protocol: the UTXO set must enumerate cleanly and the tip must resolve.
func (n *Node) verifyIntegrity() error {
	stats, err := n.utxoStore.Stats()
	if err != nil {
		return fmt.Errorf("utxo scan: %w", err)
	}
	tip := n.ch.TipHash()
	if !tip.IsZero() {
		if _, err := n.ch.GetBlock(tip); err != nil {
			return fmt.Errorf("tip block unreadable: %w", err)
		}
	}
	log.Node.Debug().Uint64("utxos", stats.Count).Uint64("supply", stats.TotalValue).Msg("integrity check passed")
	return nil
}

// Close runs the graceful shutdown protocol and releases every resource.
func (n *Node) Close(ctx context.Context) error {
	err := n.shutdown.Shutdown(ctx, n.ch.Height(), n.ch.TipHash())

	if werr := n.journal.Close(); werr != nil && err == nil {
		err = werr
	}
	if derr := n.db.Close(); derr != nil && err == nil {
		err = derr
	}
	return err
}
