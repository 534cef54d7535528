package block

import (
	"encoding/binary"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/crypto"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Header contains block metadata. Its double SHA-256 hash is the block
// identifier.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Bits       uint32     `json:"bits"` // Compact-form difficulty target.
	Nonce      uint32     `json:"nonce"`
}

// headerSize is the serialized header length:
// version(4) + prev_hash(32) + merkle_root(32) + timestamp(8) + bits(4) + nonce(4).
const headerSize = 4 + 32 + 32 + 8 + 4 + 4

// Hash computes the block identifier: double SHA-256 of the serialized header.
func (h *Header) Hash() types.Hash {
	return crypto.DoubleHash(h.Bytes())
}

// Bytes returns the canonical serialized header.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, headerSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}
