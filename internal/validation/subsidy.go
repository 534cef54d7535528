package validation

// BlockSubsidy returns the new coins a block at the given height may mint.
// The subsidy starts at InitialSubsidy and halves every HalvingInterval
// blocks; after MaxHalvings halvings it is zero.
func (v *Validator) BlockSubsidy(height uint64) uint64 {
	if v.params.HalvingInterval == 0 {
		return v.params.InitialSubsidy
	}
	halvings := height / v.params.HalvingInterval
	if halvings >= v.params.MaxHalvings {
		return 0
	}
	return v.params.InitialSubsidy >> halvings
}

// HalvingEpoch returns which subsidy epoch a height belongs to.
func (v *Validator) HalvingEpoch(height uint64) uint64 {
	if v.params.HalvingInterval == 0 {
		return 0
	}
	return height / v.params.HalvingInterval
}

// IsHalvingHeight reports whether the subsidy halves at this height.
func (v *Validator) IsHalvingHeight(height uint64) bool {
	return height > 0 && v.params.HalvingInterval > 0 && height%v.params.HalvingInterval == 0
}
