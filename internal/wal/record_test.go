package wal

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func TestRecord_EncodeDecodeRoundTrip(t *testing.T) {
	op := types.Outpoint{TxID: types.Hash{0x01}, Index: 2}
	rec := &Record{
		Sequence:  7,
		Timestamp: 1_700_000_000,
		Type:      RecordUtxoDelete,
		Outpoint:  &op,
	}

	data, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := readRecord(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sequence != 7 || got.Type != RecordUtxoDelete || got.Outpoint == nil || *got.Outpoint != op {
		t.Errorf("decoded = %+v", got)
	}
}

func TestRecord_CorruptPayloadDetected(t *testing.T) {
	rec := &Record{Sequence: 1, Type: RecordBlockWrite, Hash: types.Hash{0xAB}, Data: []byte("block bytes")}
	data, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Flip a payload byte; the CRC must catch it.
	data[10] ^= 0xFF
	if _, err := readRecord(bytes.NewReader(data)); !errors.Is(err, ErrCorruptedEntry) {
		t.Errorf("expected ErrCorruptedEntry, got: %v", err)
	}
}

func TestRecord_TruncatedBodyDetected(t *testing.T) {
	rec := &Record{Sequence: 1, Type: RecordMetadataWrite, Key: "k", Data: []byte("v")}
	data, _ := encodeRecord(rec)

	if _, err := readRecord(bytes.NewReader(data[:len(data)-6])); !errors.Is(err, ErrCorruptedEntry) {
		t.Errorf("expected ErrCorruptedEntry on truncation, got: %v", err)
	}
}

func TestRecord_CleanEOF(t *testing.T) {
	if _, err := readRecord(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got: %v", err)
	}
}

func TestRecord_ImplausibleLength(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00}
	if _, err := readRecord(bytes.NewReader(data)); !errors.Is(err, ErrCorruptedEntry) {
		t.Errorf("expected ErrCorruptedEntry, got: %v", err)
	}
}
