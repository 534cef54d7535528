package wal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func TestWAL_AppendAssignsSequence(t *testing.T) {
	w, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	s1, err := w.Append(&Record{Type: RecordMetadataWrite, Key: "a"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	s2, err := w.Append(&Record{Type: RecordMetadataWrite, Key: "b"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if s2 != s1+1 {
		t.Errorf("sequences %d, %d not monotonic", s1, s2)
	}
}

func TestWAL_SequenceResumesAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := w.Append(&Record{Type: RecordMetadataWrite, Key: "x"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	last := w.LastSequence()
	w.Close()

	w2, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()

	s, err := w2.Append(&Record{Type: RecordMetadataWrite, Key: "y"})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if s != last+1 {
		t.Errorf("sequence after reopen = %d, want %d", s, last+1)
	}
}

func TestWAL_RotationArchives(t *testing.T) {
	dir := t.TempDir()
	// Tiny rotation threshold: every append after the first rotates.
	w, err := Open(dir, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if _, err := w.Append(&Record{Type: RecordMetadataWrite, Key: "key", Data: make([]byte, 64)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	archives := 0
	for _, e := range entries {
		if e.Name() != currentName {
			archives++
		}
	}
	if archives == 0 {
		t.Error("expected at least one archive after rotation")
	}

	// All records must still replay, across the archive boundary.
	stats, err := Replay(dir, func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.TotalRecords != 5 {
		t.Errorf("replayed %d records, want 5", stats.TotalRecords)
	}
}

func TestReplay_AppliesAfterLastCheckpoint(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w.LogMetadata("before", []byte("1"))
	if err := w.AppendCheckpoint(10, types.Hash{0x0A}); err != nil {
		t.Fatalf("AppendCheckpoint: %v", err)
	}
	w.LogMetadata("after1", []byte("2"))
	w.LogMetadata("after2", []byte("3"))
	w.Close()

	var applied []string
	stats, err := Replay(dir, func(rec *Record) error {
		applied = append(applied, rec.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if stats.LastCheckpoint == nil || stats.LastCheckpoint.Height != 10 {
		t.Fatalf("checkpoint = %+v", stats.LastCheckpoint)
	}
	if len(applied) != 2 || applied[0] != "after1" || applied[1] != "after2" {
		t.Errorf("applied = %v, want records after the checkpoint only", applied)
	}
}

func TestReplay_DiscardsUncommittedBatch(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Committed batch.
	id1, _ := w.StartBatch()
	w.LogMetadata("committed", []byte("1"))
	w.CommitBatch(id1)

	// Uncommitted batch: simulates a crash mid-reorg.
	_, _ = w.StartBatch()
	w.LogMetadata("torn", []byte("2"))
	w.Close()

	var applied []string
	stats, err := Replay(dir, func(rec *Record) error {
		applied = append(applied, rec.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(applied) != 1 || applied[0] != "committed" {
		t.Errorf("applied = %v, want only the committed batch", applied)
	}
	if stats.DiscardedBatches != 1 {
		t.Errorf("discarded = %d, want 1", stats.DiscardedBatches)
	}
}

func TestReplay_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.LogMetadata("k1", []byte("v1"))
	w.LogMetadata("k2", []byte("v2"))
	w.Close()

	db := storage.NewMemory()
	apply := func(rec *Record) error {
		if rec.Type == RecordMetadataWrite {
			return storage.StoreMetadata(db, rec.Key, rec.Data)
		}
		return nil
	}

	if _, err := Replay(dir, apply); err != nil {
		t.Fatalf("first replay: %v", err)
	}
	if _, err := Replay(dir, apply); err != nil {
		t.Fatalf("second replay: %v", err)
	}

	v, ok, err := storage.LoadMetadata(db, "k2")
	if err != nil || !ok || string(v) != "v2" {
		t.Errorf("k2 = %q ok=%v err=%v", v, ok, err)
	}
}

func TestReplay_CorruptRecordFails(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.LogMetadata("k", []byte("v"))
	w.Close()

	// Corrupt the current file in place.
	path := filepath.Join(dir, currentName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Replay(dir, func(*Record) error { return nil }); !errors.Is(err, ErrCorruptedEntry) {
		t.Errorf("expected ErrCorruptedEntry, got: %v", err)
	}
}
