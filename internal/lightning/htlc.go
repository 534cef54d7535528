// Package lightning implements the HTLC timing discipline for the
// quantum-safe Lightning layer. The consensus-relevant rule is the expiry
// arithmetic: HTLCs locked by a post-quantum signature stay live for an
// extra safety margin covering the slower verification path.
package lightning

import (
	"fmt"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// HtlcState is the lifecycle state of an HTLC.
type HtlcState uint8

// HTLC lifecycle: Pending, then exactly one of the terminal states.
const (
	HtlcPending HtlcState = iota
	HtlcFulfilled
	HtlcFailed
	HtlcTimedOut
)

// String returns a short name for logging.
func (s HtlcState) String() string {
	switch s {
	case HtlcPending:
		return "pending"
	case HtlcFulfilled:
		return "fulfilled"
	case HtlcFailed:
		return "failed"
	case HtlcTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// HTLC is a hash time locked contract on a channel.
type HTLC struct {
	ID          uint64     `json:"id"`
	PaymentHash types.Hash `json:"payment_hash"`
	Amount      uint64     `json:"amount"`
	CltvExpiry  uint32     `json:"cltv_expiry"`
	Offered     bool       `json:"offered"` // Outgoing (offered by us) vs incoming.
	State       HtlcState  `json:"state"`

	// QuantumSignature locks the contract with a post-quantum scheme.
	// Non-nil shifts the effective expiry by the safety margin.
	QuantumSignature []byte `json:"quantum_signature,omitempty"`

	// Preimage is set when the HTLC is fulfilled.
	Preimage []byte `json:"preimage,omitempty"`
	// FailureReason is set when the HTLC fails or times out.
	FailureReason string `json:"failure_reason,omitempty"`
}

// IsQuantumSecured reports whether the HTLC carries a post-quantum
// signature.
func (h *HTLC) IsQuantumSecured() bool {
	return h.QuantumSignature != nil
}

// EffectiveExpiry returns the height at which the HTLC may time out.
// Quantum-secured contracts get the safety margin on top of their CLTV
// expiry; classical contracts keep their original semantics.
func (h *HTLC) EffectiveExpiry(quantumMargin uint32) uint32 {
	if h.IsQuantumSecured() {
		// Saturate rather than wrap near the top of the height space.
		if h.CltvExpiry > ^uint32(0)-quantumMargin {
			return ^uint32(0)
		}
		return h.CltvExpiry + quantumMargin
	}
	return h.CltvExpiry
}

// IsExpired reports whether the HTLC's effective expiry has passed.
func (h *HTLC) IsExpired(currentHeight, quantumMargin uint32) bool {
	return currentHeight >= h.EffectiveExpiry(quantumMargin)
}

// validate checks the parameters of a new HTLC.
func (h *HTLC) validate() error {
	if h.Amount == 0 {
		return fmt.Errorf("htlc amount must be positive")
	}
	if h.PaymentHash.IsZero() {
		return fmt.Errorf("htlc payment hash must be set")
	}
	if h.CltvExpiry == 0 {
		return fmt.Errorf("htlc cltv expiry must be set")
	}
	return nil
}
