// Package mempool manages pending transactions waiting for block
// inclusion: admission policy, unconfirmed chain limits, replace-by-fee,
// fee-based eviction, and relay rate limiting.
package mempool

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/utxo"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/tx"
	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Mempool admission errors. All are permanent policy rejections except
// ErrRateLimited (ratelimit.go), which is transient.
var (
	ErrAlreadyKnown      = errors.New("transaction already in mempool")
	ErrConflict          = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull          = errors.New("mempool is full")
	ErrValidation        = errors.New("transaction failed validation")
	ErrFeeTooLow         = errors.New("transaction fee below minimum")
	ErrTooLarge          = errors.New("transaction too large")
	ErrCoinbaseNotMature = errors.New("coinbase output not mature")
	ErrRBFNotSignaled    = errors.New("conflicting transaction does not signal replaceability")
)

// Entry wraps a pooled transaction with its admission metadata.
type Entry struct {
	Tx         *tx.Transaction
	TxHash     types.Hash
	Size       int
	Fee        uint64
	FeeRate    float64
	Added      time.Time
	SignalsRBF bool
	PeerID     string
}

// Pool holds unconfirmed transactions.
type Pool struct {
	mu     sync.Mutex
	cfg    config.Mempool
	txs    map[types.Hash]*Entry
	spends map[types.Outpoint]types.Hash // outpoint -> txHash (conflict index)
	bytes  int64

	limits *ChainLimits
	rate   *RateLimiter
	utxos  tx.UTXOProvider
	clock  func() time.Time

	// Coinbase maturity checking (0 / nil disables).
	utxoSet          utxo.Set
	heightFn         func() uint64
	coinbaseMaturity uint64
}

// New creates a mempool with the given policy and UTXO provider.
func New(cfg config.Mempool, utxos tx.UTXOProvider) *Pool {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = config.DefaultMaxPoolSize
	}
	return &Pool{
		cfg:    cfg,
		txs:    make(map[types.Hash]*Entry),
		spends: make(map[types.Outpoint]types.Hash),
		limits: NewChainLimits(cfg),
		rate:   NewRateLimiter(cfg),
		utxos:  utxos,
		clock:  time.Now,
	}
}

// SetCoinbaseMaturity enables coinbase maturity checking.
func (p *Pool) SetCoinbaseMaturity(maturity uint64, heightFn func() uint64, set utxo.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coinbaseMaturity = maturity
	p.heightFn = heightFn
	p.utxoSet = set
}

// Add validates and admits a transaction submitted by the given peer (""
// for local submissions). Returns the computed fee.
//
// The admission sequence is fixed: rate limit, size, fee floor, duplicate,
// conflicts/RBF, chain limits, full validation, insert.
func (p *Pool) Add(transaction *tx.Transaction, peerID string) (uint64, error) {
	// 1. Rate limiting happens before any work is spent on the tx.
	if err := p.rate.Allow(peerID); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 2. Size cap.
	size := transaction.Size()
	if p.cfg.MaxTxSize > 0 && size > p.cfg.MaxTxSize {
		return 0, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, size, p.cfg.MaxTxSize)
	}

	txHash := transaction.Hash()

	// 3. Fee floor and eviction threshold. The fee needs input lookups but
	// no signature work.
	fee, err := p.lookupFee(transaction)
	if err != nil {
		return 0, err
	}
	var feeRate float64
	if size > 0 {
		feeRate = float64(fee) / float64(size)
	}
	if p.cfg.MinFeeRate > 0 {
		required := p.cfg.MinFeeRate * uint64(size)
		if fee < required {
			return 0, fmt.Errorf("%w: got %d, need %d (%d bytes x %d rate)", ErrFeeTooLow, fee, required, size, p.cfg.MinFeeRate)
		}
	}
	if err := p.checkCapacityLocked(feeRate); err != nil {
		return 0, err
	}

	// 4. Duplicate.
	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyKnown
	}

	// 5. Double-spend conflicts, resolved by RBF when every conflicting
	// entry signals it.
	conflicts := p.findConflictsLocked(transaction)
	if len(conflicts) > 0 {
		if err := p.checkReplacementLocked(fee, feeRate, conflicts); err != nil {
			return 0, err
		}
	}

	// 6. Unconfirmed chain limits.
	parents := p.inPoolParentsLocked(transaction)
	if err := p.limits.Check(size, parents); err != nil {
		return 0, err
	}

	// 7. Full validation: scripts, signatures, amounts, maturity.
	if _, err := transaction.ValidateWithUTXOs(p.poolAwareProvider()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := p.checkMaturityLocked(transaction); err != nil {
		return 0, err
	}

	// Evict the losing conflicts only after the replacement fully
	// qualified.
	if len(conflicts) > 0 {
		p.evictReplacedLocked(conflicts)
	}

	// 8. Insert and index.
	entry := &Entry{
		Tx:         transaction,
		TxHash:     txHash,
		Size:       size,
		Fee:        fee,
		FeeRate:    feeRate,
		Added:      p.clock(),
		SignalsRBF: transaction.SignalsRBF(),
		PeerID:     peerID,
	}
	p.txs[txHash] = entry
	p.bytes += int64(size)
	for _, in := range transaction.Inputs {
		if !in.PrevOut.IsCoinbase() {
			p.spends[in.PrevOut] = txHash
		}
	}
	p.limits.Register(txHash, size, parents)

	log.Mempool.Debug().Str("tx", txHash.String()).Uint64("fee", fee).Int("size", size).Msg("transaction admitted")
	return fee, nil
}

// lookupFee computes inputs - outputs using the pool-aware provider, so
// children of unconfirmed parents price correctly.
func (p *Pool) lookupFee(transaction *tx.Transaction) (uint64, error) {
	provider := p.poolAwareProvider()
	var inputSum uint64
	for i, in := range transaction.Inputs {
		if in.PrevOut.IsCoinbase() {
			return 0, fmt.Errorf("%w: coinbase input", ErrValidation)
		}
		value, _, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("%w: input %d (%s): %v", ErrValidation, i, in.PrevOut, err)
		}
		if inputSum > math.MaxUint64-value {
			return 0, fmt.Errorf("%w: input overflow", ErrValidation)
		}
		inputSum += value
	}
	outputSum, err := transaction.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if inputSum < outputSum {
		return 0, fmt.Errorf("%w: inputs %d < outputs %d", ErrFeeTooLow, inputSum, outputSum)
	}
	return inputSum - outputSum, nil
}

// poolAwareProvider resolves outpoints against the confirmed set first,
// then against unconfirmed pool outputs.
func (p *Pool) poolAwareProvider() tx.UTXOProvider {
	return &pooledProvider{pool: p}
}

type pooledProvider struct {
	pool *Pool
}

func (pp *pooledProvider) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	if value, script, ok := pp.pool.unconfirmedOutput(op); ok {
		return value, script, nil
	}
	return pp.pool.utxos.GetUTXO(op)
}

func (pp *pooledProvider) HasUTXO(op types.Outpoint) bool {
	if _, _, ok := pp.pool.unconfirmedOutput(op); ok {
		return true
	}
	return pp.pool.utxos.HasUTXO(op)
}

// unconfirmedOutput resolves an outpoint created by a pooled transaction,
// unless it is already spent by another pooled transaction.
func (p *Pool) unconfirmedOutput(op types.Outpoint) (uint64, types.Script, bool) {
	entry, ok := p.txs[op.TxID]
	if !ok {
		return 0, types.Script{}, false
	}
	if int(op.Index) >= len(entry.Tx.Outputs) {
		return 0, types.Script{}, false
	}
	if _, spent := p.spends[op]; spent {
		return 0, types.Script{}, false
	}
	out := entry.Tx.Outputs[op.Index]
	return out.Value, out.Script, true
}

// findConflictsLocked returns pooled transactions spending any of the
// given transaction's inputs.
func (p *Pool) findConflictsLocked(transaction *tx.Transaction) []types.Hash {
	seen := make(map[types.Hash]bool)
	var conflicts []types.Hash
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsCoinbase() {
			continue
		}
		if conflictHash, exists := p.spends[in.PrevOut]; exists && !seen[conflictHash] {
			seen[conflictHash] = true
			conflicts = append(conflicts, conflictHash)
		}
	}
	return conflicts
}

// inPoolParentsLocked returns the pooled transactions whose outputs this
// transaction spends.
func (p *Pool) inPoolParentsLocked(transaction *tx.Transaction) []types.Hash {
	seen := make(map[types.Hash]bool)
	var parents []types.Hash
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsCoinbase() {
			continue
		}
		if _, ok := p.txs[in.PrevOut.TxID]; ok && !seen[in.PrevOut.TxID] {
			seen[in.PrevOut.TxID] = true
			parents = append(parents, in.PrevOut.TxID)
		}
	}
	return parents
}

// checkMaturityLocked rejects spends of immature coinbase outputs.
func (p *Pool) checkMaturityLocked(transaction *tx.Transaction) error {
	if p.coinbaseMaturity == 0 || p.utxoSet == nil {
		return nil
	}
	currentHeight := p.heightFn()
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsCoinbase() {
			continue
		}
		u, err := p.utxoSet.Get(in.PrevOut)
		if err != nil {
			continue // Unconfirmed parent; maturity does not apply.
		}
		if u.Coinbase && currentHeight-u.Height < p.coinbaseMaturity {
			return fmt.Errorf("%w: need %d confirmations, have %d",
				ErrCoinbaseNotMature, p.coinbaseMaturity, currentHeight-u.Height)
		}
	}
	return nil
}

// Remove removes a transaction (and only it) from the pool.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	for _, in := range e.Tx.Inputs {
		if !in.PrevOut.IsCoinbase() {
			if p.spends[in.PrevOut] == txHash {
				delete(p.spends, in.PrevOut)
			}
		}
	}
	delete(p.txs, txHash)
	p.bytes -= int64(e.Size)
	p.limits.Unregister(txHash)
}

// RemoveConfirmed removes transactions included in a connected block and
// decrements the submitting peers' rate counters.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		txHash := t.Hash()
		if e, ok := p.txs[txHash]; ok {
			p.rate.OnConfirmed(e.PeerID)
			p.removeLocked(txHash)
		}
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.Tx
}

// GetFee returns the fee for a pooled transaction (0 if not found).
func (p *Pool) GetFee(txHash types.Hash) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, exists := p.txs[txHash]
	if !exists {
		return 0
	}
	return e.Fee
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Bytes returns the pooled transaction bytes.
func (p *Pool) Bytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}

// GetSortedByFee returns up to limit transactions ordered by fee rate,
// highest first.
func (p *Pool) GetSortedByFee(limit int) []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]*Entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FeeRate > entries[j].FeeRate
	})

	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	result := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = entries[i].Tx
	}
	return result
}

// ExpireOld evicts entries older than the configured expiry, along with
// their descendants. Returns the number evicted.
func (p *Pool) ExpireOld() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Expiry <= 0 {
		return 0
	}
	cutoff := p.clock().Add(-p.cfg.Expiry)

	var stale []types.Hash
	for h, e := range p.txs {
		if e.Added.Before(cutoff) {
			stale = append(stale, h)
		}
	}

	evicted := 0
	for _, h := range stale {
		if _, ok := p.txs[h]; !ok {
			continue // Already gone as someone's descendant.
		}
		for _, d := range p.limits.AllDescendants(h) {
			if _, ok := p.txs[d]; ok {
				p.removeLocked(d)
				evicted++
			}
		}
		p.removeLocked(h)
		evicted++
	}
	return evicted
}
