// Package utxo manages the UTXO set and its spend-lock discipline.
package utxo

import (
	"errors"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// UTXO set errors.
var (
	// ErrNotFound means the outpoint is absent: never created, or already
	// spent on the active chain. Permanent for the spending transaction.
	ErrNotFound = errors.New("utxo not found")
	// ErrLocked means another transaction currently holds the spend lock
	// for one of the inputs. Transient: the caller may retry.
	ErrLocked = errors.New("utxo locked by concurrent transaction")
)

// UTXO represents an unspent transaction output.
type UTXO struct {
	Outpoint  types.Outpoint `json:"outpoint"`
	Value     uint64         `json:"value"`
	Script    types.Script   `json:"script"`
	Height    uint64         `json:"height"`
	Coinbase  bool           `json:"coinbase"`
	Confirmed bool           `json:"confirmed"`
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(utxo *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}

// Journal records UTXO mutations durably before they become visible in the
// set. The write-ahead log provides the production implementation.
type Journal interface {
	LogUtxoWrite(u *UTXO) error
	LogUtxoDelete(outpoint types.Outpoint) error
}

// NopJournal discards all records. Used by tests and UTXO rebuilds where
// the block store itself is the source of truth.
type NopJournal struct{}

// LogUtxoWrite implements Journal.
func (NopJournal) LogUtxoWrite(*UTXO) error { return nil }

// LogUtxoDelete implements Journal.
func (NopJournal) LogUtxoDelete(types.Outpoint) error { return nil }
