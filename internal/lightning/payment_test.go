package lightning

import (
	"errors"
	"testing"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/storage"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/crypto"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

func newProcessor() *PaymentProcessor {
	return NewPaymentProcessor(config.DefaultLightning())
}

func preimageAndHash(seed byte) ([]byte, types.Hash) {
	preimage := make([]byte, 32)
	preimage[0] = seed
	return preimage, crypto.PaymentHash(preimage)
}

func TestQuantumHTLC_TimeoutArithmetic(t *testing.T) {
	p := newProcessor()
	margin := p.QuantumSafetyMargin()
	if margin != 216 {
		t.Fatalf("margin = %d, want 216", margin)
	}

	_, hash := preimageAndHash(1)
	htlc, err := p.OfferHTLC(hash, 1000, 100, []byte("pq-sig"))
	if err != nil {
		t.Fatalf("OfferHTLC: %v", err)
	}

	// At height 200 (past the CLTV but inside the margin): still pending.
	if swept := p.SweepExpired(200); len(swept) != 0 {
		t.Errorf("swept %v at height 200, want none", swept)
	}
	got, _ := p.GetHTLC(htlc.ID)
	if got.State != HtlcPending {
		t.Errorf("state = %s, want pending inside the quantum margin", got.State)
	}

	// One short of the effective expiry: still pending.
	if swept := p.SweepExpired(100 + margin - 1); len(swept) != 0 {
		t.Errorf("swept %v one block early", swept)
	}

	// At cltv + margin: timed out.
	swept := p.SweepExpired(100 + margin)
	if len(swept) != 1 || swept[0] != htlc.ID {
		t.Fatalf("swept = %v, want [%d]", swept, htlc.ID)
	}
	got, _ = p.GetHTLC(htlc.ID)
	if got.State != HtlcTimedOut {
		t.Errorf("state = %s, want timed_out", got.State)
	}
}

func TestClassicalHTLC_OriginalSemantics(t *testing.T) {
	p := newProcessor()
	_, hash := preimageAndHash(2)

	htlc, err := p.AcceptHTLC(hash, 500, 100, nil)
	if err != nil {
		t.Fatalf("AcceptHTLC: %v", err)
	}

	if swept := p.SweepExpired(99); len(swept) != 0 {
		t.Errorf("swept %v before expiry", swept)
	}
	swept := p.SweepExpired(100)
	if len(swept) != 1 || swept[0] != htlc.ID {
		t.Errorf("classical htlc should expire exactly at cltv, swept = %v", swept)
	}
}

func TestSweep_FailsPaymentWithQuantumReason(t *testing.T) {
	p := newProcessor()
	_, hash := preimageAndHash(3)

	if _, err := p.CreatePayment(hash, 1000); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if _, err := p.OfferHTLC(hash, 1000, 50, []byte("pq-sig")); err != nil {
		t.Fatalf("OfferHTLC: %v", err)
	}

	p.SweepExpired(50 + p.QuantumSafetyMargin())

	payment, ok := p.GetPayment(hash)
	if !ok {
		t.Fatal("payment missing")
	}
	if payment.Status != PaymentFailed {
		t.Errorf("status = %d, want failed", payment.Status)
	}
	if payment.FailureReason == "" || payment.CompletedAt == 0 {
		t.Error("failure reason and completion time should be recorded")
	}
}

func TestFulfillHTLC_PreimageBinding(t *testing.T) {
	p := newProcessor()
	preimage, hash := preimageAndHash(4)

	p.CreatePayment(hash, 1000)
	htlc, err := p.AcceptHTLC(hash, 1000, 100, nil)
	if err != nil {
		t.Fatalf("AcceptHTLC: %v", err)
	}

	// Wrong preimage rejected.
	wrong := make([]byte, 32)
	wrong[0] = 0xFF
	if err := p.FulfillHTLC(htlc.ID, wrong); !errors.Is(err, ErrInvalidPreimage) {
		t.Errorf("expected ErrInvalidPreimage, got: %v", err)
	}

	if err := p.FulfillHTLC(htlc.ID, preimage); err != nil {
		t.Fatalf("FulfillHTLC: %v", err)
	}
	got, _ := p.GetHTLC(htlc.ID)
	if got.State != HtlcFulfilled {
		t.Errorf("state = %s, want fulfilled", got.State)
	}
	payment, _ := p.GetPayment(hash)
	if payment.Status != PaymentSucceeded {
		t.Errorf("payment status = %d, want succeeded", payment.Status)
	}

	// Terminal states cannot transition again.
	if err := p.FulfillHTLC(htlc.ID, preimage); !errors.Is(err, ErrHtlcNotPending) {
		t.Errorf("expected ErrHtlcNotPending, got: %v", err)
	}
}

func TestFailHTLC(t *testing.T) {
	p := newProcessor()
	_, hash := preimageAndHash(5)
	p.CreatePayment(hash, 1000)
	htlc, _ := p.OfferHTLC(hash, 1000, 100, nil)

	if err := p.FailHTLC(htlc.ID, "no route"); err != nil {
		t.Fatalf("FailHTLC: %v", err)
	}
	got, _ := p.GetHTLC(htlc.ID)
	if got.State != HtlcFailed || got.FailureReason != "no route" {
		t.Errorf("htlc = %+v", got)
	}
	payment, _ := p.GetPayment(hash)
	if payment.Status != PaymentFailed {
		t.Error("payment should fail with its htlc")
	}

	if err := p.FailHTLC(999, "x"); !errors.Is(err, ErrHtlcNotFound) {
		t.Errorf("expected ErrHtlcNotFound, got: %v", err)
	}
}

func TestSweep_FulfilledNotSwept(t *testing.T) {
	p := newProcessor()
	preimage, hash := preimageAndHash(6)
	htlc, _ := p.AcceptHTLC(hash, 1000, 100, nil)
	p.FulfillHTLC(htlc.ID, preimage)

	if swept := p.SweepExpired(10_000); len(swept) != 0 {
		t.Errorf("fulfilled htlc must not time out, swept = %v", swept)
	}
}

func TestEffectiveExpiry_SaturatesNearMax(t *testing.T) {
	h := &HTLC{CltvExpiry: ^uint32(0) - 10, QuantumSignature: []byte("sig")}
	if h.EffectiveExpiry(216) != ^uint32(0) {
		t.Error("effective expiry should saturate, not wrap")
	}
}

func TestStats(t *testing.T) {
	p := newProcessor()
	pre1, hash1 := preimageAndHash(7)
	_, hash2 := preimageAndHash(8)

	p.CreatePayment(hash1, 1)
	p.CreatePayment(hash2, 2)
	h1, _ := p.AcceptHTLC(hash1, 1, 100, nil)
	p.OfferHTLC(hash2, 2, 100, []byte("sig"))
	p.FulfillHTLC(h1.ID, pre1)

	st := p.GetStats()
	if st.TotalPayments != 2 || st.FulfilledHtlcs != 1 || st.PendingHtlcs != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestProcessor_DurableStateRoundTrip(t *testing.T) {
	db := storage.NewPrefixDB(storage.NewMemory(), []byte("ln/"))

	p := newProcessor()
	if err := p.SetStore(db); err != nil {
		t.Fatalf("SetStore: %v", err)
	}
	_, hash := preimageAndHash(9)
	p.CreatePayment(hash, 4242)
	htlc, err := p.OfferHTLC(hash, 4242, 300, []byte("pq-sig"))
	if err != nil {
		t.Fatalf("OfferHTLC: %v", err)
	}

	// A fresh processor over the same store sees the same state.
	p2 := newProcessor()
	if err := p2.SetStore(db); err != nil {
		t.Fatalf("SetStore reload: %v", err)
	}
	got, ok := p2.GetHTLC(htlc.ID)
	if !ok || got.CltvExpiry != 300 || !got.IsQuantumSecured() {
		t.Errorf("reloaded htlc = %+v ok=%v", got, ok)
	}
	payment, ok := p2.GetPayment(hash)
	if !ok || payment.Amount != 4242 {
		t.Errorf("reloaded payment = %+v ok=%v", payment, ok)
	}

	// New ids continue after the persisted ones.
	h2, err := p2.AcceptHTLC(hash, 1, 400, nil)
	if err != nil {
		t.Fatalf("AcceptHTLC: %v", err)
	}
	if h2.ID <= htlc.ID {
		t.Errorf("id %d should continue after %d", h2.ID, htlc.ID)
	}
}
