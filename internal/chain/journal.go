package chain

import (
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Journal is the slice of the write-ahead log the chain needs: block and
// index writes are journaled before storage mutations, reorgs run inside a
// batch so recovery can discard a half-applied switch, and checkpoints
// bound replay.
type Journal interface {
	LogBlockWrite(hash types.Hash, height uint64, data []byte) error
	LogHeightIndex(height uint64, hash types.Hash) error
	StartBatch() (uint64, error)
	CommitBatch(id uint64) error
	RollbackBatch(id uint64) error
	AppendCheckpoint(height uint64, hash types.Hash) error
}

// NopJournal discards all records. Used in tests and rebuilds.
type NopJournal struct{}

// LogBlockWrite implements Journal.
func (NopJournal) LogBlockWrite(types.Hash, uint64, []byte) error { return nil }

// LogHeightIndex implements Journal.
func (NopJournal) LogHeightIndex(uint64, types.Hash) error { return nil }

// StartBatch implements Journal.
func (NopJournal) StartBatch() (uint64, error) { return 0, nil }

// CommitBatch implements Journal.
func (NopJournal) CommitBatch(uint64) error { return nil }

// RollbackBatch implements Journal.
func (NopJournal) RollbackBatch(uint64) error { return nil }

// AppendCheckpoint implements Journal.
func (NopJournal) AppendCheckpoint(uint64, types.Hash) error { return nil }
