package fee

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func defaultSchedule() Schedule {
	return Schedule{Structure: Structure{Percentage: DefaultPercentage, Flat: DefaultFlat}}
}

func TestCalculateDefault(t *testing.T) {
	got := Calculate(defaultSchedule(), 1000, "USD")

	assert.Equal(t, 29.30, got.TotalFee)
	assert.InDelta(t, 2.9, got.PercentageFee, 1e-9)
	assert.Equal(t, 0.30, got.FlatFee)
	assert.Zero(t, got.Discount)
	assert.False(t, got.CurrencyOverride)
}

func TestCalculateCurrencyOverrideIsCaseInsensitive(t *testing.T) {
	s := defaultSchedule()
	s.Structure.CurrencyFees = []CurrencyFee{{Currency: "EUR", Percentage: ptr(1.5)}}

	got := Calculate(s, 200, "eur")

	assert.True(t, got.CurrencyOverride)
	assert.InDelta(t, 1.5, got.PercentageFee, 1e-9)
	assert.Equal(t, 0.30, got.FlatFee, "nil flat inherits the default")
	assert.Equal(t, 3.30, got.TotalFee)
}

func TestCalculateVolumeIncentiveFirstMatchByMinVolume(t *testing.T) {
	s := defaultSchedule()
	s.MonthlyVolume = 15_000
	s.VolumeIncentives = []VolumeIncentive{
		{MinVolume: 50_000, DiscountPercent: 30},
		{MinVolume: 10_000, MaxVolume: ptr(49_999.99), DiscountPercent: 10},
		{MinVolume: 0, MaxVolume: ptr(9_999.99), DiscountPercent: 0},
	}

	got := Calculate(s, 1000, "USD")

	assert.Equal(t, 10.0, got.Discount)
	assert.InDelta(t, 2.61, got.PercentageFee, 1e-9)
	assert.Equal(t, 26.40, got.TotalFee)
}

func TestCalculateUnboundedTier(t *testing.T) {
	s := defaultSchedule()
	s.MonthlyVolume = 1_000_000
	s.VolumeIncentives = []VolumeIncentive{
		{MinVolume: 10_000, MaxVolume: ptr(50_000), DiscountPercent: 10},
		{MinVolume: 50_000, DiscountPercent: 50},
	}

	got := Calculate(s, 100, "USD")

	assert.Equal(t, 50.0, got.Discount)
	assert.Equal(t, 1.75, got.TotalFee)
}

func TestCalculateInclusiveMaxVolume(t *testing.T) {
	s := defaultSchedule()
	s.MonthlyVolume = 50_000
	s.VolumeIncentives = []VolumeIncentive{{MinVolume: 10_000, MaxVolume: ptr(50_000), DiscountPercent: 20}}

	assert.Equal(t, 20.0, Calculate(s, 100, "USD").Discount)
}
