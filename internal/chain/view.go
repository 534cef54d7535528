package chain

import (
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// overlayView presents the UTXO set as it will look while a block's
// transactions apply in order: outputs created by earlier transactions in
// the block are visible, inputs they spent are not. The validator advances
// the overlay through its MutableView methods.
type overlayView struct {
	base    utxo.Set
	created map[types.Outpoint]*utxo.UTXO
	spent   map[types.Outpoint]bool
}

func newOverlayView(base utxo.Set) *overlayView {
	return &overlayView{
		base:    base,
		created: make(map[types.Outpoint]*utxo.UTXO),
		spent:   make(map[types.Outpoint]bool),
	}
}

// Get resolves an outpoint through the overlay.
func (v *overlayView) Get(op types.Outpoint) (*utxo.UTXO, error) {
	if v.spent[op] {
		return nil, fmt.Errorf("%w: %s spent earlier in block", utxo.ErrNotFound, op)
	}
	if u, ok := v.created[op]; ok {
		return u, nil
	}
	return v.base.Get(op)
}

// Has resolves existence through the overlay.
func (v *overlayView) Has(op types.Outpoint) (bool, error) {
	if v.spent[op] {
		return false, nil
	}
	if _, ok := v.created[op]; ok {
		return true, nil
	}
	return v.base.Has(op)
}

// Spend marks an outpoint consumed within the block.
func (v *overlayView) Spend(op types.Outpoint) {
	if _, ok := v.created[op]; ok {
		delete(v.created, op)
		return
	}
	v.spent[op] = true
}

// Create adds an in-block output.
func (v *overlayView) Create(u *utxo.UTXO) {
	v.created[u.Outpoint] = u
}
