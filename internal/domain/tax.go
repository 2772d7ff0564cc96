package domain

import (
	"fmt"
	"strings"
)

// TaxProfile configures how tax is derived from a feature's published price.
// Rates are permyriad (basis points): 1800 means 18%.
type TaxProfile struct {
	RatePermyriad int64
	// OriginState is the jurisdiction code that triggers the same-state
	// split treatment when it matches the buyer's registered state.
	OriginState string
	// SplitLabels name the two components of a same-state split, in order.
	SplitLabels [2]string
	// SingleLabel names the single cross-state component.
	SingleLabel string
}

// ComputeAmount derives the order amount breakdown for a published total and
// the buyer's registered state. The computation works backward from the total:
// base = total / (1 + rate) rounded to the nearest paisa, tax = total - base.
// Same-state buyers get the tax split into two near-equal components whose sum
// is exactly the tax, the odd paisa going to the first component; everyone
// else gets a single component. Pure and deterministic so charged amounts can
// be recomputed for audit.
func ComputeAmount(total int64, buyerState string, profile TaxProfile) (Amount, error) {
	if total <= 0 {
		return Amount{}, fmt.Errorf("domain: total must be positive, got %d", total)
	}
	if profile.RatePermyriad < 0 {
		return Amount{}, fmt.Errorf("domain: tax rate must not be negative, got %d", profile.RatePermyriad)
	}

	denom := 10000 + profile.RatePermyriad
	base := (total*10000 + denom/2) / denom
	tax := total - base

	amount := Amount{Base: base, Total: total}
	if tax == 0 {
		return amount, nil
	}

	if sameState(buyerState, profile.OriginState) {
		first := (tax + 1) / 2
		second := tax - first
		amount.TaxLines = []TaxLine{
			{Label: profile.SplitLabels[0], Value: first},
			{Label: profile.SplitLabels[1], Value: second},
		}
		return amount, nil
	}

	amount.TaxLines = []TaxLine{{Label: profile.SingleLabel, Value: tax}}
	return amount, nil
}

func sameState(buyer, origin string) bool {
	buyer = strings.TrimSpace(buyer)
	origin = strings.TrimSpace(origin)
	if buyer == "" || origin == "" {
		return false
	}
	return strings.EqualFold(buyer, origin)
}
