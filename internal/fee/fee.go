// Package fee computes merchant processing fees. Everything here is pure: no
// storage, no clock, no configuration lookups.
package fee

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultPercentage = 2.9
	DefaultFlat       = 0.30
)

// Structure is the merchant's negotiated pricing.
type Structure struct {
	Percentage   float64       `json:"percentage_fee"`
	Flat         float64       `json:"flat_fee"`
	CurrencyFees []CurrencyFee `json:"currency_specific_fees,omitempty"`
}

// CurrencyFee overrides the default pricing for one currency. Nil fields inherit the default.
type CurrencyFee struct {
	Currency   string   `json:"currency"`
	Percentage *float64 `json:"percentage_fee,omitempty"`
	Flat       *float64 `json:"flat_fee,omitempty"`
}

// VolumeIncentive discounts the percentage fee once monthly volume reaches MinVolume.
// A nil MaxVolume leaves the tier unbounded.
type VolumeIncentive struct {
	MinVolume       float64  `json:"min_volume"`
	MaxVolume       *float64 `json:"max_volume,omitempty"`
	DiscountPercent float64  `json:"discount_percent"`
}

// Schedule is everything Calculate needs to know about a merchant.
type Schedule struct {
	Structure        Structure
	VolumeIncentives []VolumeIncentive
	MonthlyVolume    float64
}

type Breakdown struct {
	// PercentageFee is the effective percentage after any volume discount.
	PercentageFee    float64 `json:"percentage_fee"`
	FlatFee          float64 `json:"flat_fee"`
	TotalFee         float64 `json:"total_fee"`
	Discount         float64 `json:"discount"`
	CurrencyOverride bool    `json:"currency_override"`
}

// Calculate returns the fee owed on amount. amount is expressed in the
// currency the flat fee is quoted in.
func Calculate(s Schedule, amount float64, currency string) Breakdown {
	percentage := s.Structure.Percentage
	flat := s.Structure.Flat
	override := false

	for _, cf := range s.Structure.CurrencyFees {
		if !strings.EqualFold(strings.TrimSpace(cf.Currency), strings.TrimSpace(currency)) {
			continue
		}
		override = true
		if cf.Percentage != nil {
			percentage = *cf.Percentage
		}
		if cf.Flat != nil {
			flat = *cf.Flat
		}
		break
	}

	discount := matchIncentive(s.VolumeIncentives, s.MonthlyVolume)

	pct := decimal.NewFromFloat(percentage)
	effective := pct.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(discount).Div(decimal.NewFromInt(100))))
	total := decimal.NewFromFloat(amount).
		Mul(effective).
		Div(decimal.NewFromInt(100)).
		Add(decimal.NewFromFloat(flat)).
		Round(2)

	return Breakdown{
		PercentageFee:    effective.InexactFloat64(),
		FlatFee:          flat,
		TotalFee:         total.InexactFloat64(),
		Discount:         discount,
		CurrencyOverride: override,
	}
}

func matchIncentive(tiers []VolumeIncentive, volume float64) float64 {
	if len(tiers) == 0 {
		return 0
	}
	sorted := make([]VolumeIncentive, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinVolume < sorted[j].MinVolume })

	for _, tier := range sorted {
		if volume < tier.MinVolume {
			continue
		}
		if tier.MaxVolume != nil && volume > *tier.MaxVolume {
			continue
		}
		return tier.DiscountPercent
	}
	return 0
}
