package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	QuoteStatusActive  = "active"
	QuoteStatusExpired = "expired"
)

// Resolution tiers, in lookup order.
const (
	SourceIdentity        = "identity"
	SourceCache           = "cache"
	SourceCacheInverse    = "cache-inverse"
	SourceDatabase        = "database"
	SourceDatabaseInverse = "database-inverse"
	SourceFallback        = "fallback"
)

// AnomalyThresholdPercent flags a quote whose move versus the previous quote exceeds it.
const AnomalyThresholdPercent = 5.0

// SupportedCurrencies are the codes persisted from upstream feeds.
var SupportedCurrencies = []string{
	"USD", "EUR", "GBP", "JPY", "CHF", "CAD", "AUD", "NZD", "CNY", "HKD",
	"SGD", "SEK", "NOK", "DKK", "KRW", "INR", "MXN", "BRL", "ZAR", "AED",
	"SAR", "THB", "MYR", "PHP", "IDR", "PLN", "CZK", "HUF", "ILS", "TRY",
}

var supported = func() map[string]struct{} {
	out := make(map[string]struct{}, len(SupportedCurrencies))
	for _, c := range SupportedCurrencies {
		out[c] = struct{}{}
	}
	return out
}()

func IsSupported(currency string) bool {
	_, ok := supported[currency]
	return ok
}

// Quote is a persisted rate between two currencies.
type Quote struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	BaseCurrency   string       `gorm:"not null;index:idx_quotes_pair,priority:1" json:"base_currency"`
	TargetCurrency string       `gorm:"not null;index:idx_quotes_pair,priority:2" json:"target_currency"`
	Rate           float64      `gorm:"not null" json:"rate"`
	InverseRate    float64      `gorm:"not null" json:"inverse_rate"`
	Source         string       `gorm:"not null" json:"source"`
	Status         string       `gorm:"not null;index" json:"status"`
	PreviousRate   *float64     `json:"previous_rate,omitempty"`
	ChangePercent  *float64     `json:"change_percent,omitempty"`
	Version        int          `gorm:"not null;default:1" json:"version"`
	IsAnomaly      bool         `gorm:"not null;default:false" json:"is_anomaly"`
	AnomalyReason  string       `json:"anomaly_reason,omitempty"`
	BatchID        string       `gorm:"index" json:"batch_id"`
	FetchedAt      time.Time    `gorm:"not null;index" json:"fetched_at"`
	ValidFrom      time.Time    `gorm:"not null" json:"valid_from"`
	ValidUntil     time.Time    `gorm:"not null" json:"valid_until"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Quote) TableName() string { return "exchange_rates" }

// Resolution is the outcome of resolving one currency pair.
type Resolution struct {
	From        string        `json:"from"`
	To          string        `json:"to"`
	Rate        float64       `json:"rate"`
	InverseRate float64       `json:"inverse_rate"`
	Source      string        `json:"source"`
	QuoteID     snowflake.ID  `json:"quote_id,omitempty"`
	Version     int           `json:"version,omitempty"`
	FetchedAt   *time.Time    `json:"fetched_at,omitempty"`
	Latency     time.Duration `json:"latency"`
}

type Conversion struct {
	OriginalAmount   float64       `json:"original_amount"`
	OriginalCurrency string        `json:"original_currency"`
	ConvertedAmount  float64       `json:"converted_amount"`
	TargetCurrency   string        `json:"target_currency"`
	Rate             float64       `json:"rate"`
	InverseRate      float64       `json:"inverse_rate"`
	QuoteID          snowflake.ID  `json:"quote_id,omitempty"`
	Source           string        `json:"source"`
	Latency          time.Duration `json:"latency"`
	Timestamp        time.Time     `json:"timestamp"`
}

// RefreshResult reports one base currency of a refresh batch.
type RefreshResult struct {
	Base              string        `json:"base"`
	Success           bool          `json:"success"`
	Stored            int           `json:"stored"`
	Anomalies         int           `json:"anomalies"`
	BatchID           string        `json:"batch_id,omitempty"`
	FetchDuration     time.Duration `json:"fetch_duration"`
	Error             string        `json:"error,omitempty"`
	FallbackAvailable bool          `json:"fallback_available"`
}

type RateView struct {
	Currency      string    `json:"currency"`
	Rate          float64   `json:"rate"`
	InverseRate   float64   `json:"inverse_rate"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type RateList struct {
	BaseCurrency string     `json:"base_currency"`
	Rates        []RateView `json:"rates"`
	Count        int        `json:"count"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

// UpstreamRates is one snapshot from the upstream provider. Keys are upper-case codes.
type UpstreamRates struct {
	Base  string
	Rates map[string]float64
	AsOf  string
}
