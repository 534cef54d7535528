package config

import "time"

// Consensus defaults.
const (
	DefaultInitialSubsidy   = 50_000_000_000 // 50 NOVA in base units.
	DefaultHalvingInterval  = 210_000
	DefaultMaxHalvings      = 64
	DefaultCoinbaseMaturity = 100
	DefaultMaxForkLength    = 100
	DefaultAdjustInterval   = 2016
	DefaultTargetBlockTime  = 600
	DefaultMaxFutureDrift   = 2 * time.Hour
	DefaultMedianTimeSpan   = 11
	DefaultCheckpointInterval = 1000

	// Regtest-grade compact target: nearly every hash qualifies.
	RegtestBits uint32 = 0x207FFFFF
	// Mainnet launch compact target.
	MainnetBits uint32 = 0x1D00FFFF
)

// Transaction shape limits (consensus, enforced structurally).
const (
	MaxTxInputs   = 1024
	MaxTxOutputs  = 1024
	MaxScriptData = 10_240
	MaxBlockTxs   = 50_000
)

// Mempool defaults.
const (
	DefaultMaxTxSize          = 100_000
	DefaultMinFeeRate         = 1
	DefaultMaxPoolSize        = 5000
	DefaultMaxPoolBytes       = 300 * 1024 * 1024
	DefaultMempoolExpiry      = 72 * time.Hour
	DefaultMaxAncestorCount   = 25
	DefaultMaxAncestorSize    = 101_000
	DefaultMaxDescendantCount = 25
	DefaultMaxDescendantSize  = 101_000
	DefaultMinRBFFeeIncrease  = 0.10
	DefaultMaxRBFEvictions    = 100
	DefaultRelayRatePerSecond = 7.0
	DefaultPeerTxPerMinute    = 60
)

// WAL defaults.
const (
	DefaultMaxWALSize       = 100 * 1024 * 1024
	DefaultOperationTimeout = 30 * time.Second
	DefaultGracePeriod      = 5 * time.Second
)

// DefaultQuantumSafetyMargin is the block offset added to the expiry of
// HTLCs carrying a post-quantum signature (~36 hours at the target block
// spacing).
const DefaultQuantumSafetyMargin uint32 = 216

// DefaultConsensus returns the mainnet consensus rules.
func DefaultConsensus() Consensus {
	return Consensus{
		InitialSubsidy:     DefaultInitialSubsidy,
		HalvingInterval:    DefaultHalvingInterval,
		MaxHalvings:        DefaultMaxHalvings,
		CoinbaseMaturity:   DefaultCoinbaseMaturity,
		MaxForkLength:      DefaultMaxForkLength,
		AdjustInterval:     DefaultAdjustInterval,
		TargetBlockTime:    DefaultTargetBlockTime,
		GenesisBits:        MainnetBits,
		MaxFutureDrift:     DefaultMaxFutureDrift,
		MedianTimeSpan:     DefaultMedianTimeSpan,
		CheckpointInterval: DefaultCheckpointInterval,
	}
}

// DefaultMempool returns the default admission policy.
func DefaultMempool() Mempool {
	return Mempool{
		MaxTxSize:          DefaultMaxTxSize,
		MinFeeRate:         DefaultMinFeeRate,
		MaxPoolSize:        DefaultMaxPoolSize,
		MaxPoolBytes:       DefaultMaxPoolBytes,
		Expiry:             DefaultMempoolExpiry,
		MaxAncestorCount:   DefaultMaxAncestorCount,
		MaxAncestorSize:    DefaultMaxAncestorSize,
		MaxDescendantCount: DefaultMaxDescendantCount,
		MaxDescendantSize:  DefaultMaxDescendantSize,
		MinRBFFeeIncrease:  DefaultMinRBFFeeIncrease,
		MaxRBFEvictions:    DefaultMaxRBFEvictions,
		RelayRatePerSecond: DefaultRelayRatePerSecond,
		PeerTxPerMinute:    DefaultPeerTxPerMinute,
	}
}

// DefaultWAL returns WAL settings rooted under the given data directory.
func DefaultWAL(dataDir string) WAL {
	return WAL{
		Dir:              dataDir + "/wal",
		MaxFileSize:      DefaultMaxWALSize,
		OperationTimeout: DefaultOperationTimeout,
		GracePeriod:      DefaultGracePeriod,
	}
}

// DefaultLightning returns the default HTLC timing policy.
func DefaultLightning() Lightning {
	return Lightning{QuantumSafetyMargin: DefaultQuantumSafetyMargin}
}

// Default returns a complete node configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:   dataDir,
		Consensus: DefaultConsensus(),
		Mempool:   DefaultMempool(),
		WAL:       DefaultWAL(dataDir),
		Lightning: DefaultLightning(),
	}
}
