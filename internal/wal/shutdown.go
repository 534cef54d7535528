package wal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// ShutdownConfig bounds the graceful shutdown sequence.
type ShutdownConfig struct {
	// OperationTimeout caps the whole shutdown; exceeding it escalates to
	// an emergency shutdown that forces recovery at next start.
	OperationTimeout time.Duration
	// GracePeriod is how long to wait for in-flight writes to drain.
	GracePeriod time.Duration
}

// DefaultShutdownConfig returns the standard timeouts.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		OperationTimeout: 30 * time.Second,
		GracePeriod:      5 * time.Second,
	}
}

// ShutdownManager drives the clean-shutdown protocol over the metadata
// store and the WAL.
type ShutdownManager struct {
	db  storage.DB
	wal *WAL
	cfg ShutdownConfig

	// WaitInFlight blocks until outstanding writes drain or the context
	// expires. Nil means there is nothing to wait for.
	WaitInFlight func(ctx context.Context) error
	// VerifyIntegrity runs a quick consistency check before the clean
	// marker is written. Nil skips the check.
	VerifyIntegrity func() error
	// Compact optionally compacts storage after the checkpoint. Nil skips.
	Compact func() error
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(db storage.DB, wal *WAL, cfg ShutdownConfig) *ShutdownManager {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultShutdownConfig().OperationTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultShutdownConfig().GracePeriod
	}
	return &ShutdownManager{db: db, wal: wal, cfg: cfg}
}

// Shutdown runs the graceful shutdown sequence, writing a final checkpoint
// for the given tip. If the sequence exceeds the operation timeout it falls
// through to Emergency.
func (m *ShutdownManager) Shutdown(ctx context.Context, height uint64, tipHash types.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	done := make(chan error, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.shutdownSteps(gctx, height, tipHash)
	})
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			log.Wal.Error().Err(err).Msg("graceful shutdown failed, escalating to emergency")
			return m.Emergency(err)
		}
		return nil
	case <-ctx.Done():
		log.Wal.Error().Dur("timeout", m.cfg.OperationTimeout).Msg("shutdown timed out, escalating to emergency")
		return m.Emergency(ctx.Err())
	}
}

// shutdownSteps is the ordered protocol body.
func (m *ShutdownManager) shutdownSteps(ctx context.Context, height uint64, tipHash types.Hash) error {
	// 1. Mark a shutdown as in progress so a crash here forces recovery.
	if err := storage.SetMetadataFlag(m.db, storage.MetaShutdownInProgress, true); err != nil {
		return err
	}

	// 2. Wait (bounded) for in-flight writes.
	if m.WaitInFlight != nil {
		waitCtx, cancel := context.WithTimeout(ctx, m.cfg.GracePeriod)
		err := m.WaitInFlight(waitCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("drain in-flight writes: %w", err)
		}
	}

	// 3. Flush pending writes.
	if syncer, ok := m.db.(storage.Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("flush database: %w", err)
		}
	}

	// 4. Final checkpoint.
	if err := m.wal.AppendCheckpoint(height, tipHash); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}

	// 5. Integrity check.
	if m.VerifyIntegrity != nil {
		if err := m.VerifyIntegrity(); err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
	}

	// 6. Optional compaction.
	if m.Compact != nil {
		if err := m.Compact(); err != nil {
			log.Wal.Warn().Err(err).Msg("compaction failed during shutdown")
		}
	}

	// 7. Flush the WAL and write the clean marker.
	if err := m.wal.Flush(); err != nil {
		return fmt.Errorf("flush wal: %w", err)
	}
	if err := storage.SetMetadataFlag(m.db, storage.MetaCleanShutdown, true); err != nil {
		return err
	}

	// 8. Clear the in-progress flag.
	if err := storage.SetMetadataFlag(m.db, storage.MetaShutdownInProgress, false); err != nil {
		return err
	}

	// 9. Record when the clean shutdown happened.
	if err := storage.StoreMetadataUint64(m.db, storage.MetaLastCleanShutdown, uint64(time.Now().Unix())); err != nil {
		return err
	}

	log.Wal.Info().Uint64("height", height).Str("tip", tipHash.String()).Msg("clean shutdown complete")
	return nil
}

// Emergency performs a best-effort flush and marks the store so the next
// start runs recovery. The original error is returned wrapped.
func (m *ShutdownManager) Emergency(cause error) error {
	if err := m.wal.Flush(); err != nil {
		log.Wal.Error().Err(err).Msg("emergency wal flush failed")
	}
	if err := storage.SetMetadataFlag(m.db, storage.MetaEmergencyShutdown, true); err != nil {
		log.Wal.Error().Err(err).Msg("failed to set emergency marker")
	}
	return fmt.Errorf("emergency shutdown: %w", cause)
}

// ClearRecoveryFlags resets the shutdown markers after a successful
// recovery, leaving the store in the "running" state (no clean marker).
func ClearRecoveryFlags(db storage.DB) error {
	if err := storage.SetMetadataFlag(db, storage.MetaEmergencyShutdown, false); err != nil {
		return err
	}
	if err := storage.SetMetadataFlag(db, storage.MetaShutdownInProgress, false); err != nil {
		return err
	}
	// The clean marker is consumed at startup: it only ever certifies the
	// previous run.
	return storage.SetMetadataFlag(db, storage.MetaCleanShutdown, false)
}
