// Package wal implements the write-ahead log: an append-only journal of
// every durable mutation, written before the mutation becomes visible.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Record errors.
var (
	// ErrCorruptedEntry means a record failed its CRC or framing check.
	ErrCorruptedEntry = errors.New("corrupted wal entry")
)

// recordVersion prefixes every payload so the format can evolve.
const recordVersion byte = 1

// maxRecordSize bounds a single record to keep a corrupt length field from
// exhausting memory during replay.
const maxRecordSize = 32 * 1024 * 1024

// RecordType tags the payload union.
type RecordType uint8

// Record types.
const (
	RecordBlockWrite RecordType = iota + 1
	RecordTransactionWrite
	RecordUtxoWrite
	RecordUtxoDelete
	RecordMetadataWrite
	RecordHeightIndexWrite
	RecordBatchStart
	RecordBatchCommit
	RecordBatchRollback
	RecordCheckpoint
)

// String returns a short name for logging.
func (t RecordType) String() string {
	switch t {
	case RecordBlockWrite:
		return "block"
	case RecordTransactionWrite:
		return "tx"
	case RecordUtxoWrite:
		return "utxo_write"
	case RecordUtxoDelete:
		return "utxo_delete"
	case RecordMetadataWrite:
		return "metadata"
	case RecordHeightIndexWrite:
		return "height_index"
	case RecordBatchStart:
		return "batch_start"
	case RecordBatchCommit:
		return "batch_commit"
	case RecordBatchRollback:
		return "batch_rollback"
	case RecordCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Record is one journal entry. Sequence numbers are monotonically
// increasing across rotations; Timestamp is Unix seconds at append time.
type Record struct {
	Sequence  uint64     `json:"sequence"`
	Timestamp uint64     `json:"timestamp"`
	Type      RecordType `json:"type"`

	// Union fields; which are set depends on Type.
	Hash     types.Hash      `json:"hash,omitempty"`
	Height   uint64          `json:"height,omitempty"`
	Outpoint *types.Outpoint `json:"outpoint,omitempty"`
	Key      string          `json:"key,omitempty"`
	Data     []byte          `json:"data,omitempty"`
	BatchID  uint64          `json:"batch_id,omitempty"`
}

// encodeRecord frames a record:
// length(4, LE) | version(1) | payload JSON | crc32(4, LE).
// The length covers version + payload; the CRC covers the same bytes.
func encodeRecord(rec *Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal wal record: %w", err)
	}

	body := make([]byte, 0, 1+len(payload))
	body = append(body, recordVersion)
	body = append(body, payload...)

	out := make([]byte, 0, 4+len(body)+4)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
	return out, nil
}

// readRecord decodes the next record from the reader.
// Returns io.EOF cleanly at end of stream, ErrCorruptedEntry on damage.
func readRecord(r io.Reader) (*Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated length: %v", ErrCorruptedEntry, err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 || length > maxRecordSize {
		return nil, fmt.Errorf("%w: implausible record length %d", ErrCorruptedEntry, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: truncated body: %v", ErrCorruptedEntry, err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated checksum: %v", ErrCorruptedEntry, err)
	}
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(crcBuf[:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptedEntry)
	}

	if body[0] != recordVersion {
		return nil, fmt.Errorf("%w: unknown record version %d", ErrCorruptedEntry, body[0])
	}

	var rec Record
	if err := json.Unmarshal(body[1:], &rec); err != nil {
		return nil, fmt.Errorf("%w: payload decode: %v", ErrCorruptedEntry, err)
	}
	return &rec, nil
}
