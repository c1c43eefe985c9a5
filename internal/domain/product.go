package domain

import (
	"github.com/shopspring/decimal"
)

// InterestType selects how a product charges interest.
type InterestType string

const (
	InterestFlat     InterestType = "flat"
	InterestReducing InterestType = "reducing"
)

// FineKind selects how a fine amount is derived from its rule value.
type FineKind string

const (
	FineKindOneOff     FineKind = "one-off"
	FineKindFixed      FineKind = "fixed"
	FineKindPercentage FineKind = "percentage"
)

// ChargeBasis selects the amount a percentage fine is charged on.
type ChargeBasis string

const (
	ChargePerInstallment ChargeBasis = "per-installment"
	ChargeTotalUnpaid    ChargeBasis = "total-unpaid"
)

// FineFrequency controls whether a fine re-fires while the obligation stays unpaid.
type FineFrequency string

const (
	FrequencyOnce    FineFrequency = "once"
	FrequencyMonthly FineFrequency = "monthly"
)

// FineRule governs how fines are computed, not whether they exist yet.
type FineRule struct {
	Enabled     bool            `json:"enabled"`
	Kind        FineKind        `json:"kind" validate:"omitempty,oneof=one-off fixed percentage"`
	Value       decimal.Decimal `json:"value"`
	ChargeBasis ChargeBasis     `json:"charge_basis" validate:"omitempty,oneof=per-installment total-unpaid"`
	Frequency   FineFrequency   `json:"frequency" validate:"omitempty,oneof=once monthly"`
	GraceDays   int             `json:"grace_days" validate:"gte=0"`
}

// Refires reports whether the rule charges again for every further elapsed month.
func (r FineRule) Refires() bool {
	return r.Kind != FineKindOneOff && r.Frequency == FrequencyMonthly
}

// LoanProduct is an immutable loan product definition.
type LoanProduct struct {
	ID                   string           `json:"id" validate:"required"`
	Name                 string           `json:"name" validate:"required"`
	TenorMonths          int              `json:"tenor_months" validate:"gte=1"`
	InterestRatePercent  decimal.Decimal  `json:"interest_rate_percent"`
	InterestType         InterestType     `json:"interest_type" validate:"oneof=flat reducing"`
	MaxAmount            *decimal.Decimal `json:"max_amount,omitempty"`
	MaxMultipleOfSavings *decimal.Decimal `json:"max_multiple_of_savings,omitempty"`
	LateFineRule         FineRule         `json:"late_fine_rule"`
	OutstandingFineRule  FineRule         `json:"outstanding_fine_rule"`
}

// Clone returns a deep copy so callers cannot mutate a registered product.
func (p *LoanProduct) Clone() *LoanProduct {
	c := *p
	if p.MaxAmount != nil {
		v := *p.MaxAmount
		c.MaxAmount = &v
	}
	if p.MaxMultipleOfSavings != nil {
		v := *p.MaxMultipleOfSavings
		c.MaxMultipleOfSavings = &v
	}
	return &c
}
