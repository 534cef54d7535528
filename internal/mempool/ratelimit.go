package mempool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
)

// ErrRateLimited is returned when relay admission is throttled. Transient:
// the rejection does not count against the peer.
var ErrRateLimited = errors.New("transaction relay rate limit exceeded")

// RateLimiter throttles transaction relay: a global token bucket bounds
// network-wide admission, and per-peer windows bound each peer's quota.
// Per-peer counters live in a lock-free concurrent map.
type RateLimiter struct {
	global *rate.Limiter
	peers  sync.Map // peerID -> *peerWindow
	cfg    config.Mempool
	now    func() time.Time
}

type peerWindow struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	outstanding int
}

// NewRateLimiter creates a limiter from the mempool policy.
func NewRateLimiter(cfg config.Mempool) *RateLimiter {
	burst := int(cfg.RelayRatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global: rate.NewLimiter(rate.Limit(cfg.RelayRatePerSecond), burst),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Allow admits one transaction from the given peer (empty for local
// submissions, which only pass the global bucket).
func (r *RateLimiter) Allow(peerID string) error {
	if !r.global.Allow() {
		return fmt.Errorf("%w: global relay budget exhausted", ErrRateLimited)
	}
	if peerID == "" {
		return nil
	}

	w := r.window(peerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := r.now()
	if now.Sub(w.windowStart) >= time.Minute {
		w.windowStart = now
		w.count = 0
	}
	if w.count >= r.cfg.PeerTxPerMinute {
		return fmt.Errorf("%w: peer %s exceeded %d tx/min", ErrRateLimited, peerID, r.cfg.PeerTxPerMinute)
	}
	w.count++
	w.outstanding++
	return nil
}

// OnConfirmed decrements a peer's outstanding count when one of its
// transactions is mined.
func (r *RateLimiter) OnConfirmed(peerID string) {
	if peerID == "" {
		return
	}
	v, ok := r.peers.Load(peerID)
	if !ok {
		return
	}
	w := v.(*peerWindow)
	w.mu.Lock()
	if w.outstanding > 0 {
		w.outstanding--
	}
	w.mu.Unlock()
}

// Outstanding returns a peer's unconfirmed admission count.
func (r *RateLimiter) Outstanding(peerID string) int {
	v, ok := r.peers.Load(peerID)
	if !ok {
		return 0
	}
	w := v.(*peerWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding
}

func (r *RateLimiter) window(peerID string) *peerWindow {
	if v, ok := r.peers.Load(peerID); ok {
		return v.(*peerWindow)
	}
	w := &peerWindow{windowStart: r.now()}
	actual, _ := r.peers.LoadOrStore(peerID, w)
	return actual.(*peerWindow)
}
