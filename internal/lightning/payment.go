package lightning

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/crypto"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Payment errors.
var (
	ErrHtlcNotFound     = errors.New("htlc not found")
	ErrHtlcNotPending   = errors.New("htlc is not pending")
	ErrInvalidPreimage  = errors.New("preimage does not match payment hash")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("payment already exists")
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus uint8

// Payment states.
const (
	PaymentPending PaymentStatus = iota
	PaymentSucceeded
	PaymentFailed
)

// Payment tracks an end-to-end payment keyed by its payment hash.
type Payment struct {
	PaymentHash   types.Hash    `json:"payment_hash"`
	Amount        uint64        `json:"amount"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     uint64        `json:"created_at"`
	CompletedAt   uint64        `json:"completed_at,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// Stats summarizes the processor's bookkeeping.
type Stats struct {
	TotalPayments  int
	PendingHtlcs   int
	FulfilledHtlcs int
	TimedOutHtlcs  int
}

// PaymentProcessor owns HTLC and payment bookkeeping for a node's
// channels. All state transitions use the effective-expiry rule
// consistently across the offer, accept, and sweep paths.
type PaymentProcessor struct {
	mu       sync.Mutex
	cfg      config.Lightning
	htlcs    map[uint64]*HTLC
	payments map[types.Hash]*Payment
	nextID   uint64
	now      func() time.Time
	store    storage.DB // Optional durable state; nil keeps it in memory.
}

// NewPaymentProcessor creates a processor with the given timing policy.
func NewPaymentProcessor(cfg config.Lightning) *PaymentProcessor {
	return &PaymentProcessor{
		cfg:      cfg,
		htlcs:    make(map[uint64]*HTLC),
		payments: make(map[types.Hash]*Payment),
		now:      time.Now,
	}
}

// Durable key prefixes within the processor's namespaced store.
var (
	prefixHtlc    = []byte("h/")
	prefixPayment = []byte("p/")
)

// SetStore attaches a durable store (typically a PrefixDB namespace) and
// loads any persisted HTLC and payment state into memory.
func (p *PaymentProcessor) SetStore(db storage.DB) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = db

	err := db.ForEach(prefixHtlc, func(_, value []byte) error {
		var htlc HTLC
		if err := json.Unmarshal(value, &htlc); err != nil {
			return fmt.Errorf("decode htlc: %w", err)
		}
		p.htlcs[htlc.ID] = &htlc
		if htlc.ID > p.nextID {
			p.nextID = htlc.ID
		}
		return nil
	})
	if err != nil {
		return err
	}
	return db.ForEach(prefixPayment, func(_, value []byte) error {
		var payment Payment
		if err := json.Unmarshal(value, &payment); err != nil {
			return fmt.Errorf("decode payment: %w", err)
		}
		p.payments[payment.PaymentHash] = &payment
		return nil
	})
}

func htlcKey(id uint64) []byte {
	key := make([]byte, len(prefixHtlc)+8)
	copy(key, prefixHtlc)
	binary.BigEndian.PutUint64(key[len(prefixHtlc):], id)
	return key
}

func paymentKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixPayment)+types.HashSize)
	copy(key, prefixPayment)
	copy(key[len(prefixPayment):], hash[:])
	return key
}

// persistHtlcLocked writes an HTLC through to the store, if attached.
func (p *PaymentProcessor) persistHtlcLocked(htlc *HTLC) {
	if p.store == nil {
		return
	}
	data, err := json.Marshal(htlc)
	if err != nil {
		log.Lightning.Error().Err(err).Uint64("id", htlc.ID).Msg("marshal htlc")
		return
	}
	if err := p.store.Put(htlcKey(htlc.ID), data); err != nil {
		log.Lightning.Error().Err(err).Uint64("id", htlc.ID).Msg("persist htlc")
	}
}

// persistPaymentLocked writes a payment through to the store, if attached.
func (p *PaymentProcessor) persistPaymentLocked(payment *Payment) {
	if p.store == nil {
		return
	}
	data, err := json.Marshal(payment)
	if err != nil {
		log.Lightning.Error().Err(err).Msg("marshal payment")
		return
	}
	if err := p.store.Put(paymentKey(payment.PaymentHash), data); err != nil {
		log.Lightning.Error().Err(err).Msg("persist payment")
	}
}

// QuantumSafetyMargin returns the configured expiry offset for
// quantum-secured HTLCs.
func (p *PaymentProcessor) QuantumSafetyMargin() uint32 {
	return p.cfg.QuantumSafetyMargin
}

// CreatePayment registers a pending payment for the given hash.
func (p *PaymentProcessor) CreatePayment(paymentHash types.Hash, amount uint64) (*Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.payments[paymentHash]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePayment, paymentHash)
	}
	payment := &Payment{
		PaymentHash: paymentHash,
		Amount:      amount,
		Status:      PaymentPending,
		CreatedAt:   uint64(p.now().Unix()),
	}
	p.payments[paymentHash] = payment
	p.persistPaymentLocked(payment)
	return payment, nil
}

// OfferHTLC adds an outgoing HTLC; AcceptHTLC adds an incoming one. Both
// paths share addHTLC so the expiry discipline cannot diverge.
func (p *PaymentProcessor) OfferHTLC(paymentHash types.Hash, amount uint64, cltvExpiry uint32, quantumSignature []byte) (*HTLC, error) {
	return p.addHTLC(paymentHash, amount, cltvExpiry, true, quantumSignature)
}

// AcceptHTLC adds an incoming HTLC.
func (p *PaymentProcessor) AcceptHTLC(paymentHash types.Hash, amount uint64, cltvExpiry uint32, quantumSignature []byte) (*HTLC, error) {
	return p.addHTLC(paymentHash, amount, cltvExpiry, false, quantumSignature)
}

func (p *PaymentProcessor) addHTLC(paymentHash types.Hash, amount uint64, cltvExpiry uint32, offered bool, quantumSignature []byte) (*HTLC, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	htlc := &HTLC{
		ID:               p.nextID,
		PaymentHash:      paymentHash,
		Amount:           amount,
		CltvExpiry:       cltvExpiry,
		Offered:          offered,
		State:            HtlcPending,
		QuantumSignature: quantumSignature,
	}
	if err := htlc.validate(); err != nil {
		p.nextID--
		return nil, err
	}
	p.htlcs[htlc.ID] = htlc
	p.persistHtlcLocked(htlc)

	log.Lightning.Debug().
		Uint64("id", htlc.ID).
		Uint32("cltv", cltvExpiry).
		Uint32("effective", htlc.EffectiveExpiry(p.cfg.QuantumSafetyMargin)).
		Bool("quantum", htlc.IsQuantumSecured()).
		Msg("htlc added")
	return htlc, nil
}

// FulfillHTLC settles a pending HTLC with its preimage. The preimage must
// SHA-256-hash to the payment hash; the associated payment succeeds.
func (p *PaymentProcessor) FulfillHTLC(id uint64, preimage []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	htlc, ok := p.htlcs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHtlcNotFound, id)
	}
	if htlc.State != HtlcPending {
		return fmt.Errorf("%w: %d is %s", ErrHtlcNotPending, id, htlc.State)
	}

	derived := crypto.PaymentHash(preimage)
	if !bytes.Equal(derived[:], htlc.PaymentHash[:]) {
		return fmt.Errorf("%w: htlc %d", ErrInvalidPreimage, id)
	}

	htlc.State = HtlcFulfilled
	htlc.Preimage = append([]byte(nil), preimage...)
	p.persistHtlcLocked(htlc)

	if payment, ok := p.payments[htlc.PaymentHash]; ok && payment.Status == PaymentPending {
		payment.Status = PaymentSucceeded
		payment.CompletedAt = uint64(p.now().Unix())
		p.persistPaymentLocked(payment)
	}
	return nil
}

// FailHTLC fails a pending HTLC with a reason; the associated payment
// fails with it.
func (p *PaymentProcessor) FailHTLC(id uint64, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	htlc, ok := p.htlcs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHtlcNotFound, id)
	}
	if htlc.State != HtlcPending {
		return fmt.Errorf("%w: %d is %s", ErrHtlcNotPending, id, htlc.State)
	}

	htlc.State = HtlcFailed
	htlc.FailureReason = reason
	p.persistHtlcLocked(htlc)
	p.failPaymentLocked(htlc.PaymentHash, reason)
	return nil
}

// SweepExpired transitions every pending HTLC whose effective expiry has
// passed to TimedOut, failing the associated payments with a
// quantum-adjusted reason. Returns the swept HTLC ids.
func (p *PaymentProcessor) SweepExpired(currentHeight uint32) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	margin := p.cfg.QuantumSafetyMargin
	var expired []uint64
	for id, htlc := range p.htlcs {
		if htlc.State != HtlcPending || !htlc.IsExpired(currentHeight, margin) {
			continue
		}
		htlc.State = HtlcTimedOut
		reason := fmt.Sprintf("htlc expired at height %d (quantum-adjusted timeout)", currentHeight)
		htlc.FailureReason = reason
		p.persistHtlcLocked(htlc)
		p.failPaymentLocked(htlc.PaymentHash, reason)
		expired = append(expired, id)

		log.Lightning.Debug().
			Uint64("id", id).
			Uint32("height", currentHeight).
			Bool("quantum", htlc.IsQuantumSecured()).
			Msg("htlc timed out")
	}

	if len(expired) > 0 {
		log.Lightning.Info().Int("count", len(expired)).Uint32("height", currentHeight).Msg("swept expired htlcs")
	}
	return expired
}

func (p *PaymentProcessor) failPaymentLocked(paymentHash types.Hash, reason string) {
	payment, ok := p.payments[paymentHash]
	if !ok || payment.Status != PaymentPending {
		return
	}
	payment.Status = PaymentFailed
	payment.FailureReason = reason
	payment.CompletedAt = uint64(p.now().Unix())
	p.persistPaymentLocked(payment)
}

// GetHTLC returns a copy of an HTLC.
func (p *PaymentProcessor) GetHTLC(id uint64) (HTLC, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	htlc, ok := p.htlcs[id]
	if !ok {
		return HTLC{}, false
	}
	return *htlc, true
}

// GetPayment returns a copy of a payment.
func (p *PaymentProcessor) GetPayment(paymentHash types.Hash) (Payment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[paymentHash]
	if !ok {
		return Payment{}, false
	}
	return *payment, true
}

// PendingHTLCs returns copies of all pending HTLCs.
func (p *PaymentProcessor) PendingHTLCs() []HTLC {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []HTLC
	for _, htlc := range p.htlcs {
		if htlc.State == HtlcPending {
			out = append(out, *htlc)
		}
	}
	return out
}

// GetStats summarizes the processor state.
func (p *PaymentProcessor) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{TotalPayments: len(p.payments)}
	for _, htlc := range p.htlcs {
		switch htlc.State {
		case HtlcPending:
			st.PendingHtlcs++
		case HtlcFulfilled:
			st.FulfilledHtlcs++
		case HtlcTimedOut:
			st.TimedOutHtlcs++
		}
	}
	return st
}
