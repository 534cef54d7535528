package work

// BlockWork returns the amount of work a block with the given compact
// target contributes to its chain: 2^256 / (target+1), computed as
// (MaxU256 - target) / (target + 1) + 1 so it fits in 256 bits. Lower
// target means strictly more work. A zero target yields maximum work.
//
// All arithmetic is checked or saturating; a zero divisor cannot occur
// because target+1 >= 1 always.
func BlockWork(bits uint32) (U256, error) {
	target, err := CompactToTarget(bits)
	if err != nil {
		return ZeroU256(), err
	}
	if target.IsZero() {
		return MaxU256(), nil
	}

	denom := target.SaturatingAdd(OneU256())
	quotient, err := MaxU256().SaturatingSub(target).CheckedDiv(denom)
	if err != nil {
		return ZeroU256(), err
	}
	return quotient.SaturatingAdd(OneU256()), nil
}

// HashMeetsTarget reports whether a block hash, interpreted as a 256-bit
// big-endian integer, satisfies the given target.
func HashMeetsTarget(hash [32]byte, target U256) bool {
	return U256FromBEBytes(hash).Cmp(target) <= 0
}
