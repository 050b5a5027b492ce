package operations

import (
	"context"

	exchangeratedomain "github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	frauddomain "github.com/smallbiznis/fxpay/internal/fraud/domain"
)

func (s *Service) ConvertCurrency(ctx context.Context, meta Meta, amount float64, from, to string) (exchangeratedomain.Conversion, error) {
	return query(ctx, s, meta, epConvert, func(ctx context.Context) (exchangeratedomain.Conversion, error) {
		return s.rates.Convert(ctx, amount, from, to)
	})
}

func (s *Service) GetRate(ctx context.Context, meta Meta, from, to string) (exchangeratedomain.Resolution, error) {
	return query(ctx, s, meta, epGetRate, func(ctx context.Context) (exchangeratedomain.Resolution, error) {
		return s.rates.Resolve(ctx, from, to)
	})
}

func (s *Service) ListRates(ctx context.Context, meta Meta, base string) (exchangeratedomain.RateList, error) {
	return query(ctx, s, meta, epListRates, func(ctx context.Context) (exchangeratedomain.RateList, error) {
		return s.rates.ListRates(ctx, base)
	})
}

// RefreshRates pulls every configured base from the upstream provider.
// Per-base failures are reported in the results, not as an error.
func (s *Service) RefreshRates(ctx context.Context, meta Meta) ([]exchangeratedomain.RefreshResult, error) {
	return query(ctx, s, meta, epRefreshRates, func(ctx context.Context) ([]exchangeratedomain.RefreshResult, error) {
		return s.rates.Refresh(ctx)
	})
}

func (s *Service) FraudStats(ctx context.Context, meta Meta, r frauddomain.DateRange) (frauddomain.Stats, error) {
	return query(ctx, s, meta, epFraudStats, func(ctx context.Context) (frauddomain.Stats, error) {
		return s.fraud.Stats(ctx, r)
	})
}
