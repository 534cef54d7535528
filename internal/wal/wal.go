package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// File naming inside the WAL directory.
const (
	currentName   = "wal.current"
	archivePrefix = "wal-"
	archiveSuffix = ".log"
)

// DefaultMaxFileSize rotates the current file once it exceeds ~100 MB.
const DefaultMaxFileSize = 100 * 1024 * 1024

// WAL is an append-only journal with size-based rotation. A single
// exclusive writer appends; reads happen only during recovery.
type WAL struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	file    *os.File
	size    int64
	seq     uint64
	now     func() time.Time
}

// Open creates or resumes the WAL in the given directory. The next sequence
// number continues after the highest sequence found in existing files.
func Open(dir string, maxSize int64) (*WAL, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	w := &WAL{dir: dir, maxSize: maxSize, now: time.Now}

	// Resume the sequence counter from existing files.
	lastSeq, err := w.scanLastSequence()
	if err != nil {
		return nil, err
	}
	w.seq = lastSeq

	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

// openCurrent opens (or creates) the active file for appending.
func (w *WAL) openCurrent() error {
	path := filepath.Join(w.dir, currentName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wal file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat wal file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// scanLastSequence finds the highest sequence number across all WAL files.
func (w *WAL) scanLastSequence() (uint64, error) {
	files, err := listFiles(w.dir)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, path := range files {
		// Tolerate a torn tail: keep the highest sequence before damage.
		_ = readFileRecords(path, func(rec *Record) error {
			if rec.Sequence > last {
				last = rec.Sequence
			}
			return nil
		})
	}
	return last, nil
}

// listFiles returns archive files in rotation order followed by the current
// file, skipping files that do not exist.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read wal dir: %w", err)
	}

	var archives []string
	hasCurrent := false
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == currentName:
			hasCurrent = true
		case strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix):
			archives = append(archives, filepath.Join(dir, name))
		}
	}
	// Archive names embed a nanosecond timestamp, so lexicographic order is
	// rotation order.
	sort.Strings(archives)
	if hasCurrent {
		archives = append(archives, filepath.Join(dir, currentName))
	}
	return archives, nil
}

// readFileRecords streams records from one file. Stops at clean EOF; a
// corrupt record aborts with ErrCorruptedEntry.
func readFileRecords(path string, fn func(*Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open wal file %s: %w", path, err)
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Append assigns a sequence number and timestamp, frames the record, and
// writes it to the current file, rotating first if the file is full.
func (w *WAL) Append(rec *Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(rec)
}

func (w *WAL) appendLocked(rec *Record) (uint64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("wal is closed")
	}

	if w.size >= w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	w.seq++
	rec.Sequence = w.seq
	rec.Timestamp = uint64(w.now().Unix())

	data, err := encodeRecord(rec)
	if err != nil {
		return 0, err
	}
	n, err := w.file.Write(data)
	if err != nil {
		return 0, fmt.Errorf("append wal record: %w", err)
	}
	w.size += int64(n)
	return rec.Sequence, nil
}

// Flush forces buffered appends to stable storage.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}
	return nil
}

// Rotate atomically renames the current file to a timestamped archive and
// opens a fresh one.
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *WAL) rotateLocked() error {
	if w.file == nil {
		return fmt.Errorf("wal is closed")
	}
	if w.size == 0 {
		return nil // Nothing to archive.
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync before rotate: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close before rotate: %w", err)
	}
	w.file = nil

	archive := filepath.Join(w.dir, fmt.Sprintf("%s%020d%s", archivePrefix, w.now().UnixNano(), archiveSuffix))
	current := filepath.Join(w.dir, currentName)
	if err := os.Rename(current, archive); err != nil {
		return fmt.Errorf("archive wal file: %w", err)
	}
	return w.openCurrent()
}

// Close flushes and closes the current file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("sync on close: %w", err)
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// LastSequence returns the sequence number of the most recent append.
func (w *WAL) LastSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// LogUtxoWrite journals a UTXO creation. Implements utxo.Journal.
func (w *WAL) LogUtxoWrite(u *utxo.UTXO) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal utxo for wal: %w", err)
	}
	op := u.Outpoint
	_, err = w.Append(&Record{Type: RecordUtxoWrite, Outpoint: &op, Data: data})
	return err
}

// LogUtxoDelete journals a UTXO spend. Implements utxo.Journal.
func (w *WAL) LogUtxoDelete(outpoint types.Outpoint) error {
	op := outpoint
	_, err := w.Append(&Record{Type: RecordUtxoDelete, Outpoint: &op})
	return err
}

// LogBlockWrite journals a block being persisted.
func (w *WAL) LogBlockWrite(hash types.Hash, height uint64, data []byte) error {
	_, err := w.Append(&Record{Type: RecordBlockWrite, Hash: hash, Height: height, Data: data})
	return err
}

// LogTransactionWrite journals a transaction index entry.
func (w *WAL) LogTransactionWrite(hash types.Hash, data []byte) error {
	_, err := w.Append(&Record{Type: RecordTransactionWrite, Hash: hash, Data: data})
	return err
}

// LogHeightIndex journals an active-chain height index update.
func (w *WAL) LogHeightIndex(height uint64, hash types.Hash) error {
	_, err := w.Append(&Record{Type: RecordHeightIndexWrite, Height: height, Hash: hash})
	return err
}

// LogMetadata journals a metadata key write.
func (w *WAL) LogMetadata(key string, value []byte) error {
	_, err := w.Append(&Record{Type: RecordMetadataWrite, Key: key, Data: value})
	return err
}

// StartBatch journals the start of a multi-record batch and returns its id.
// Records between start and commit are discarded during recovery unless the
// matching commit is present.
func (w *WAL) StartBatch() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.seq + 1 // The batch id is the sequence of its start record.
	_, err := w.appendLocked(&Record{Type: RecordBatchStart, BatchID: id})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CommitBatch journals a batch commit.
func (w *WAL) CommitBatch(id uint64) error {
	_, err := w.Append(&Record{Type: RecordBatchCommit, BatchID: id})
	return err
}

// RollbackBatch journals a batch rollback.
func (w *WAL) RollbackBatch(id uint64) error {
	_, err := w.Append(&Record{Type: RecordBatchRollback, BatchID: id})
	return err
}

// AppendCheckpoint journals a durable checkpoint. Replay restarts from the
// last checkpoint found.
func (w *WAL) AppendCheckpoint(height uint64, hash types.Hash) error {
	if _, err := w.Append(&Record{Type: RecordCheckpoint, Height: height, Hash: hash}); err != nil {
		return err
	}
	return w.Flush()
}
