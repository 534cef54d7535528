package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestMetadata_Flags(t *testing.T) {
	db := NewMemory()
	defer db.Close()

	set, err := MetadataFlag(db, MetaCleanShutdown)
	if err != nil {
		t.Fatalf("MetadataFlag: %v", err)
	}
	if set {
		t.Error("flag should start unset")
	}

	if err := SetMetadataFlag(db, MetaCleanShutdown, true); err != nil {
		t.Fatalf("SetMetadataFlag: %v", err)
	}
	set, _ = MetadataFlag(db, MetaCleanShutdown)
	if !set {
		t.Error("flag should be set")
	}

	if err := SetMetadataFlag(db, MetaCleanShutdown, false); err != nil {
		t.Fatalf("SetMetadataFlag clear: %v", err)
	}
	set, _ = MetadataFlag(db, MetaCleanShutdown)
	if set {
		t.Error("flag should be cleared")
	}
}

func TestMetadata_Uint64(t *testing.T) {
	db := NewMemory()
	defer db.Close()

	_, ok, err := LoadMetadataUint64(db, MetaLastCleanShutdown)
	if err != nil || ok {
		t.Fatalf("absent value: ok=%v err=%v", ok, err)
	}

	if err := StoreMetadataUint64(db, MetaLastCleanShutdown, 1_700_000_000); err != nil {
		t.Fatalf("StoreMetadataUint64: %v", err)
	}
	v, ok, err := LoadMetadataUint64(db, MetaLastCleanShutdown)
	if err != nil || !ok {
		t.Fatalf("present value: ok=%v err=%v", ok, err)
	}
	if v != 1_700_000_000 {
		t.Errorf("value = %d", v)
	}
}

func TestGet_ReturnsErrNotFound(t *testing.T) {
	db := NewMemory()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryDB_Batch(t *testing.T) {
	db := NewMemory()
	defer db.Close()

	db.Put([]byte("stale"), []byte("x"))

	batch := db.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("stale"))

	// Nothing visible before commit.
	if ok, _ := db.Has([]byte("a")); ok {
		t.Error("batch writes should not be visible before commit")
	}

	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v, err := db.Get([]byte("a"))
	if err != nil || !bytes.Equal(v, []byte("1")) {
		t.Errorf("a = %q err=%v", v, err)
	}
	if ok, _ := db.Has([]byte("stale")); ok {
		t.Error("batched delete should apply")
	}
}

func TestBadgerDB_Batch(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer db.Close()

	batch := db.NewBatch()
	batch.Put([]byte("k1"), []byte("v1"))
	batch.Put([]byte("k2"), []byte("v2"))
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v, err := db.Get([]byte("k2"))
	if err != nil || !bytes.Equal(v, []byte("v2")) {
		t.Errorf("k2 = %q err=%v", v, err)
	}
}
