package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fxpay/internal/audit/domain"
	auditservice "github.com/smallbiznis/fxpay/internal/audit/service"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	"github.com/smallbiznis/fxpay/internal/observability/metrics"
	"github.com/smallbiznis/fxpay/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultHistoryDays = 30

var errNoRates = errors.New("provider returned no supported rates")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     domain.Repository
	Provider domain.Provider
	Audit    auditdomain.Sink `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	provider domain.Provider
	audit    auditdomain.Sink
	metrics  *metrics.PaymentMetrics

	bases         []string
	fetchTimeout  time.Duration
	quoteValidity time.Duration
	cache         *rateCache
}

func New(p Params) domain.Service {
	bases := p.Config.Rates.BaseCurrencies
	if len(bases) == 0 {
		bases = []string{"INR", "USD", "EUR", "GBP"}
	}
	timeout := p.Config.Rates.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	validity := p.Config.Rates.QuoteValidity
	if validity <= 0 {
		validity = 24 * time.Hour
	}

	return &Service{
		db:            p.DB,
		log:           p.Log.Named("exchangerate.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		provider:      p.Provider,
		audit:         p.Audit,
		metrics:       metrics.Payments(),
		bases:         bases,
		fetchTimeout:  timeout,
		quoteValidity: validity,
		cache:         newRateCache(p.Clock.Now, p.Config.Rates.CacheTTL),
	}
}

func (s *Service) Resolve(ctx context.Context, from, to string) (domain.Resolution, error) {
	started := time.Now()
	from, to, err := normalizePair(from, to)
	if err != nil {
		return domain.Resolution{}, err
	}

	res, err := s.resolve(ctx, from, to)
	if err != nil {
		return domain.Resolution{}, err
	}
	res.From, res.To = from, to
	res.Latency = time.Since(started)
	s.metrics.ObserveRateResolution(res.Source, res.Latency)
	return res, nil
}

func (s *Service) resolve(ctx context.Context, from, to string) (domain.Resolution, error) {
	if from == to {
		return domain.Resolution{Rate: 1, InverseRate: 1, Source: domain.SourceIdentity}, nil
	}

	if rate, quoteID, entry, ok := s.cache.lookup(from, to); ok {
		fetchedAt := entry.fetchedAt
		return domain.Resolution{
			Rate:        rate,
			InverseRate: 1 / rate,
			Source:      cacheSource(entry, domain.SourceCache),
			QuoteID:     quoteID,
			FetchedAt:   &fetchedAt,
		}, nil
	}

	if rate, quoteID, entry, ok := s.cache.lookup(to, from); ok {
		fetchedAt := entry.fetchedAt
		return domain.Resolution{
			Rate:        1 / rate,
			InverseRate: rate,
			Source:      cacheSource(entry, domain.SourceCacheInverse),
			QuoteID:     quoteID,
			FetchedAt:   &fetchedAt,
		}, nil
	}

	quote, err := s.repo.FindActive(ctx, s.db, from, to)
	if err != nil {
		return domain.Resolution{}, err
	}
	if quote != nil {
		return fromQuote(*quote, false), nil
	}

	quote, err = s.repo.FindActive(ctx, s.db, to, from)
	if err != nil {
		return domain.Resolution{}, err
	}
	if quote != nil {
		return fromQuote(*quote, true), nil
	}

	return domain.Resolution{}, domain.ErrRateUnavailable
}

func (s *Service) Convert(ctx context.Context, amount float64, from, to string) (domain.Conversion, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.Conversion{}, domain.ErrInvalidAmount
	}
	res, err := s.Resolve(ctx, from, to)
	if err != nil {
		return domain.Conversion{}, err
	}
	return domain.Conversion{
		OriginalAmount:   amount,
		OriginalCurrency: res.From,
		ConvertedAmount:  money.Mul(amount, res.Rate),
		TargetCurrency:   res.To,
		Rate:             res.Rate,
		InverseRate:      res.InverseRate,
		QuoteID:          res.QuoteID,
		Source:           res.Source,
		Latency:          res.Latency,
		Timestamp:        s.clock.Now(),
	}, nil
}

// Refresh pulls every configured base currency. A failing base never aborts the batch.
func (s *Service) Refresh(ctx context.Context) ([]domain.RefreshResult, error) {
	results := make([]domain.RefreshResult, 0, len(s.bases))
	for _, base := range s.bases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, s.refreshBase(ctx, base))
	}
	return results, nil
}

func (s *Service) refreshBase(ctx context.Context, base string) domain.RefreshResult {
	result := domain.RefreshResult{Base: base}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	started := time.Now()
	upstream, err := s.provider.Fetch(fetchCtx, base)
	cancel()
	result.FetchDuration = time.Since(started)

	if err == nil {
		var anomalies []domain.Quote
		result.Stored, anomalies, result.BatchID, err = s.storeRates(ctx, base, upstream.Rates)
		if err == nil {
			result.Success = true
			result.Anomalies = len(anomalies)
			s.metrics.IncRateRefresh(base, "success")
			s.reportAnomalies(ctx, anomalies)
			s.log.Info("exchange rates refreshed",
				zap.String("base", base),
				zap.Int("stored", result.Stored),
				zap.Int("anomalies", result.Anomalies),
				zap.Duration("fetch_duration", result.FetchDuration),
			)
			return result
		}
	}

	result.Error = err.Error()
	available, ferr := s.loadFallback(ctx, base)
	if ferr != nil {
		s.log.Error("fallback rate load failed", zap.String("base", base), zap.Error(ferr))
	}
	result.FallbackAvailable = available

	outcome := "failed"
	if available {
		outcome = "fallback"
	}
	s.metrics.IncRateRefresh(base, outcome)
	s.log.Warn("exchange rate refresh failed",
		zap.String("base", base),
		zap.Bool("fallback_available", available),
		zap.Error(err),
	)
	return result
}

func (s *Service) storeRates(ctx context.Context, base string, rates map[string]float64) (int, []domain.Quote, string, error) {
	now := s.clock.Now()
	batchID := "BATCH-" + now.Format("20060102T150405.000Z")

	targets := make([]string, 0, len(rates))
	for target := range rates {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	var (
		quotes    []domain.Quote
		anomalies []domain.Quote
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, target := range targets {
			rate := rates[target]
			target = strings.ToUpper(target)
			if target == base || !domain.IsSupported(target) {
				continue
			}
			if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
				continue
			}

			quote := domain.Quote{
				ID:             s.genID.Generate(),
				BaseCurrency:   base,
				TargetCurrency: target,
				Rate:           rate,
				InverseRate:    1 / rate,
				Source:         "api",
				Status:         domain.QuoteStatusActive,
				Version:        1,
				BatchID:        batchID,
				FetchedAt:      now,
				ValidFrom:      now,
				ValidUntil:     now.Add(s.quoteValidity),
				CreatedAt:      now,
			}

			prev, err := s.repo.FindLatest(ctx, tx, base, target)
			if err != nil {
				return err
			}
			if prev != nil && prev.Rate > 0 {
				previous := prev.Rate
				change := (rate - previous) / previous * 100
				quote.PreviousRate = &previous
				quote.ChangePercent = &change
				quote.Version = prev.Version + 1
				if math.Abs(change) > domain.AnomalyThresholdPercent {
					quote.IsAnomaly = true
					quote.AnomalyReason = fmt.Sprintf("Rate changed by %.2f%% (threshold: %.0f%%)", change, domain.AnomalyThresholdPercent)
					anomalies = append(anomalies, quote)
				}
			}
			quotes = append(quotes, quote)
		}

		if len(quotes) == 0 {
			return errNoRates
		}
		if _, err := s.repo.ExpireActive(ctx, tx, base); err != nil {
			return err
		}
		return s.repo.InsertBatch(ctx, tx, quotes)
	})
	if err != nil {
		return 0, nil, "", err
	}

	entry := rateEntry{
		rates:     make(map[string]float64, len(quotes)),
		quoteIDs:  make(map[string]snowflake.ID, len(quotes)),
		fetchedAt: now,
	}
	for _, q := range quotes {
		entry.rates[q.TargetCurrency] = q.Rate
		entry.quoteIDs[q.TargetCurrency] = q.ID
	}
	s.cache.store(base, entry)

	return len(quotes), anomalies, batchID, nil
}

// loadFallback repopulates the cache for base from the newest persisted quotes.
func (s *Service) loadFallback(ctx context.Context, base string) (bool, error) {
	quotes, err := s.repo.ListActive(ctx, s.db, base)
	if err != nil {
		return false, err
	}
	if len(quotes) == 0 {
		return false, nil
	}

	entry := rateEntry{
		rates:    make(map[string]float64, len(quotes)),
		quoteIDs: make(map[string]snowflake.ID, len(quotes)),
		fallback: true,
	}
	for _, q := range quotes {
		if _, seen := entry.rates[q.TargetCurrency]; seen {
			continue
		}
		entry.rates[q.TargetCurrency] = q.Rate
		entry.quoteIDs[q.TargetCurrency] = q.ID
		if q.FetchedAt.After(entry.fetchedAt) {
			entry.fetchedAt = q.FetchedAt
		}
	}
	s.cache.store(base, entry)
	return true, nil
}

func (s *Service) reportAnomalies(ctx context.Context, anomalies []domain.Quote) {
	for _, q := range anomalies {
		md := map[string]any{
			"base_currency":   q.BaseCurrency,
			"target_currency": q.TargetCurrency,
			"rate":            q.Rate,
			"reason":          q.AnomalyReason,
		}
		if q.PreviousRate != nil {
			md["previous_rate"] = *q.PreviousRate
		}
		if q.ChangePercent != nil {
			md["change_percent"] = *q.ChangePercent
		}
		auditservice.Emit(ctx, s.audit, s.log, auditdomain.Event{
			Action:     auditdomain.ActionExchangeRateAnomaly,
			Severity:   auditdomain.SeverityWarning,
			TargetType: "exchange_rate",
			TargetID:   q.ID.String(),
			ActorID:    "system",
			Metadata:   md,
			OccurredAt: q.FetchedAt,
		})
	}
}

func (s *Service) ListRates(ctx context.Context, base string) (domain.RateList, error) {
	base, err := normalizeCurrency(base)
	if err != nil {
		return domain.RateList{}, err
	}
	quotes, err := s.repo.ListActive(ctx, s.db, base)
	if err != nil {
		return domain.RateList{}, err
	}

	out := domain.RateList{BaseCurrency: base, Rates: make([]domain.RateView, 0, len(quotes))}
	seen := make(map[string]struct{}, len(quotes))
	for _, q := range quotes {
		if _, ok := seen[q.TargetCurrency]; ok {
			continue
		}
		seen[q.TargetCurrency] = struct{}{}
		out.Rates = append(out.Rates, domain.RateView{
			Currency:      q.TargetCurrency,
			Rate:          q.Rate,
			InverseRate:   q.InverseRate,
			ChangePercent: q.ChangePercent,
			UpdatedAt:     q.FetchedAt,
		})
		if out.LastUpdated == nil || q.FetchedAt.After(*out.LastUpdated) {
			at := q.FetchedAt
			out.LastUpdated = &at
		}
	}
	out.Count = len(out.Rates)
	return out, nil
}

func (s *Service) RateHistory(ctx context.Context, base, target string, days int) ([]domain.Quote, error) {
	base, target, err := normalizePair(base, target)
	if err != nil {
		return nil, err
	}
	if days < 0 {
		return nil, domain.ErrInvalidDays
	}
	if days == 0 {
		days = defaultHistoryDays
	}
	since := s.clock.Now().AddDate(0, 0, -days)
	return s.repo.ListHistory(ctx, s.db, base, target, since)
}

func fromQuote(q domain.Quote, inverse bool) domain.Resolution {
	fetchedAt := q.FetchedAt
	res := domain.Resolution{
		Rate:        q.Rate,
		InverseRate: q.InverseRate,
		Source:      domain.SourceDatabase,
		QuoteID:     q.ID,
		Version:     q.Version,
		FetchedAt:   &fetchedAt,
	}
	if inverse {
		res.Rate, res.InverseRate = q.InverseRate, q.Rate
		res.Source = domain.SourceDatabaseInverse
	}
	return res
}

func cacheSource(entry rateEntry, tier string) string {
	if entry.fallback {
		return domain.SourceFallback
	}
	return tier
}

func normalizePair(from, to string) (string, string, error) {
	f, err := normalizeCurrency(from)
	if err != nil {
		return "", "", err
	}
	t, err := normalizeCurrency(to)
	if err != nil {
		return "", "", err
	}
	return f, t, nil
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", domain.ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidCurrency
		}
	}
	return code, nil
}

// NewResolver exposes the read path to payment creation.
func NewResolver(svc domain.Service) domain.Resolver {
	return svc
}
