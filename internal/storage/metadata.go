package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Metadata keys used by the shutdown/startup protocol. All live under the
// "m/" prefix so they can be enumerated and cleared together.
const (
	MetaCleanShutdown      = "clean_shutdown"
	MetaShutdownInProgress = "shutdown_in_progress"
	MetaEmergencyShutdown  = "emergency_shutdown"
	MetaLastCleanShutdown  = "last_clean_shutdown"
)

var prefixMeta = []byte("m/")

func metaKey(name string) []byte {
	key := make([]byte, 0, len(prefixMeta)+len(name))
	key = append(key, prefixMeta...)
	return append(key, name...)
}

// StoreMetadata writes a metadata value under the given name.
func StoreMetadata(db DB, name string, value []byte) error {
	if err := db.Put(metaKey(name), value); err != nil {
		return fmt.Errorf("store metadata %q: %w", name, err)
	}
	return nil
}

// LoadMetadata reads a metadata value. Returns (nil, false, nil) when absent.
func LoadMetadata(db DB, name string) ([]byte, bool, error) {
	v, err := db.Get(metaKey(name))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load metadata %q: %w", name, err)
	}
	return v, true, nil
}

// DeleteMetadata removes a metadata value.
func DeleteMetadata(db DB, name string) error {
	if err := db.Delete(metaKey(name)); err != nil {
		return fmt.Errorf("delete metadata %q: %w", name, err)
	}
	return nil
}

// SetMetadataFlag writes a boolean metadata flag.
func SetMetadataFlag(db DB, name string, set bool) error {
	if !set {
		return DeleteMetadata(db, name)
	}
	return StoreMetadata(db, name, []byte{1})
}

// MetadataFlag reports whether a boolean metadata flag is set.
func MetadataFlag(db DB, name string) (bool, error) {
	v, ok, err := LoadMetadata(db, name)
	if err != nil {
		return false, err
	}
	return ok && len(v) == 1 && v[0] == 1, nil
}

// StoreMetadataUint64 writes a uint64 metadata value (big-endian).
func StoreMetadataUint64(db DB, name string, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return StoreMetadata(db, name, buf[:])
}

// LoadMetadataUint64 reads a uint64 metadata value. Returns (0, false, nil)
// when absent.
func LoadMetadataUint64(db DB, name string) (uint64, bool, error) {
	v, ok, err := LoadMetadata(db, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("metadata %q: corrupt uint64 of %d bytes", name, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}
