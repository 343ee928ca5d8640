package domain

import (
	"errors"
	"fmt"
)

// ErrFeeMisconfigured indicates a fee waiver flag is enabled without a
// configured threshold. The calculator refuses to guess between charging and
// waiving.
var ErrFeeMisconfigured = errors.New("pricing: waiver enabled without threshold")

// EffectiveFee computes the fee charged for a payment or delivery method given
// the order subtotal. The fee is waived when the waiver is enabled and the
// subtotal reaches the threshold; the boundary is inclusive, so a subtotal
// exactly equal to the threshold waives the fee.
//
// Pure and deterministic: no clock, no I/O, no state.
func EffectiveFee(flatFee int64, waiverEnabled bool, waiverThreshold *int64, subtotal int64) (int64, error) {
	if flatFee < 0 {
		return 0, fmt.Errorf("pricing: negative flat fee %d", flatFee)
	}
	if !waiverEnabled {
		return flatFee, nil
	}
	if waiverThreshold == nil {
		return 0, ErrFeeMisconfigured
	}
	if subtotal >= *waiverThreshold {
		return 0, nil
	}
	return flatFee, nil
}

// FeeBreakdown captures the resolved additional costs of an order keyed by the
// method name that produced each fee. Keys are unique because method names are
// unique within their config collections.
type FeeBreakdown map[string]int64

// Sum totals the resolved fees.
func (b FeeBreakdown) Sum() int64 {
	var total int64
	for _, amount := range b {
		total += amount
	}
	return total
}
