// Package config holds consensus parameters and node settings.
//
// Configuration is split into two categories:
//   - Consensus rules: immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import "time"

// Consensus holds the network-wide consensus rules. These are fixed for a
// network; changing any of them is a hard fork.
type Consensus struct {
	// Subsidy schedule.
	InitialSubsidy  uint64 // Base units minted by the first blocks.
	HalvingInterval uint64 // Blocks between subsidy halvings.
	MaxHalvings     uint64 // Subsidy is zero from this many halvings on.

	// Spend rules.
	CoinbaseMaturity uint64 // Confirmations before a coinbase output is spendable.

	// Fork handling.
	MaxForkLength uint64 // Deepest reorg / fork tracking horizon in blocks.

	// Difficulty.
	AdjustInterval  uint64 // Blocks between difficulty retargets.
	TargetBlockTime uint64 // Target seconds between blocks.
	GenesisBits     uint32 // Compact target of the genesis block.

	// Timestamps.
	MaxFutureDrift time.Duration // Max block timestamp ahead of wall clock.
	MedianTimeSpan int           // Blocks in the median-time-past window.

	// Durability.
	CheckpointInterval uint64 // Blocks between checkpoint records.
}

// Mempool holds transaction admission policy. These can vary per node
// without breaking consensus.
type Mempool struct {
	MaxTxSize    int    // Maximum transaction size in bytes.
	MinFeeRate   uint64 // Minimum fee rate in base units per byte.
	MaxPoolSize  int    // Maximum number of pooled transactions.
	MaxPoolBytes int64  // Memory cap across all entries.
	Expiry       time.Duration

	// Unconfirmed chain limits.
	MaxAncestorCount   int
	MaxAncestorSize    int
	MaxDescendantCount int
	MaxDescendantSize  int

	// Replace-by-fee.
	MinRBFFeeIncrease float64 // Required fee-rate bump, e.g. 0.10 = +10%.
	MaxRBFEvictions   int

	// DoS protection.
	RelayRatePerSecond float64 // Global relay admission rate.
	PeerTxPerMinute    int     // Per-peer admission quota.
}

// WAL holds write-ahead-log and shutdown settings.
type WAL struct {
	Dir              string
	MaxFileSize      int64 // Rotation threshold in bytes.
	OperationTimeout time.Duration
	GracePeriod      time.Duration
}

// Lightning holds HTLC timing policy.
type Lightning struct {
	// QuantumSafetyMargin is the extra number of blocks a quantum-signed
	// HTLC remains live past its CLTV expiry, covering the worst-case
	// post-quantum signature verification time. Used identically on the
	// offer, accept, and sweep paths.
	QuantumSafetyMargin uint32
}

// Config holds node-specific runtime configuration.
type Config struct {
	DataDir   string
	Consensus Consensus
	Mempool   Mempool
	WAL       WAL
	Lightning Lightning
}
