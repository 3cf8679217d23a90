package domain

import "github.com/shopspring/decimal"

// DefaultCommissionRate is the flat partner share of the product total.
var DefaultCommissionRate = decimal.RequireFromString("0.15")

// CommissionBase sums price times quantity. Line items never carry shipping or fees.
func CommissionBase(items []LineItem) int64 {
	var base int64
	for _, item := range items {
		base += item.Total()
	}
	return base
}

// CalculateCommission returns floor(base * rate) in whole minor units.
func CalculateCommission(items []LineItem, rate decimal.Decimal) int64 {
	return CommissionForAmount(CommissionBase(items), rate)
}

func CommissionForAmount(base int64, rate decimal.Decimal) int64 {
	if base <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(base).Mul(rate).Floor().IntPart()
}

type CommissionOutcome string

const (
	CommissionNotApplicable  CommissionOutcome = "not_applicable"
	CommissionApplied        CommissionOutcome = "applied"
	CommissionAlreadyApplied CommissionOutcome = "already_applied"
	CommissionLinkMissing    CommissionOutcome = "link_missing"
)
