package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	auditdomain "github.com/smallbiznis/fxpay/internal/audit/domain"
	auditservice "github.com/smallbiznis/fxpay/internal/audit/service"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/internal/fraud/domain"
	"github.com/smallbiznis/fxpay/internal/fraud/velocity"
	"github.com/smallbiznis/fxpay/internal/observability/metrics"
	"github.com/smallbiznis/fxpay/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Tracker velocity.Tracker
	Risk    *config.RiskConfigHolder
	Audit   auditdomain.Sink `optional:"true"`
}

type Engine struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	tracker velocity.Tracker
	risk    *config.RiskConfigHolder
	audit   auditdomain.Sink
	metrics *metrics.PaymentMetrics
}

func New(p Params) domain.Service {
	return &Engine{
		db:      p.DB,
		log:     p.Log.Named("fraud.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		tracker: p.Tracker,
		risk:    p.Risk,
		audit:   p.Audit,
		metrics: metrics.Payments(),
	}
}

type check func(ctx context.Context, c domain.Candidate, cfg config.RiskConfig) ([]domain.Flag, error)

// Assess runs every check concurrently. Flags keep the order of the checks.
func (e *Engine) Assess(ctx context.Context, c domain.Candidate) (domain.Assessment, error) {
	cfg := e.risk.Get()
	checks := []check{
		e.checkVelocity,
		e.checkDuplicate,
		e.checkAmount,
		e.checkRate,
		e.checkPattern,
	}

	results := make([][]domain.Flag, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range checks {
		g.Go(func() error {
			flags, err := fn(gctx, c, cfg)
			if err != nil {
				return err
			}
			results[i] = flags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Assessment{}, fmt.Errorf("fraud screening: %w", err)
	}

	flags := make([]domain.Flag, 0)
	for _, r := range results {
		flags = append(flags, r...)
	}

	score := domain.Score(flags)
	blocked := score >= cfg.BlockScore
	for _, f := range flags {
		if f.Severity == domain.SeverityCritical {
			blocked = true
			break
		}
	}

	out := domain.Assessment{
		RiskScore: score,
		Flags:     flags,
		Blocked:   blocked,
		CheckedAt: e.clock.Now(),
	}
	if blocked {
		out.Reason = domain.BlockedReason
	}

	e.metrics.ObserveAssessment(score, blocked)
	if score >= cfg.AlertScore {
		e.alert(ctx, c, out, cfg)
	}
	return out, nil
}

func (e *Engine) alert(ctx context.Context, c domain.Candidate, a domain.Assessment, cfg config.RiskConfig) {
	severity := auditdomain.SeverityWarning
	if a.RiskScore >= cfg.BlockScore {
		severity = auditdomain.SeverityCritical
	}
	types := make([]string, 0, len(a.Flags))
	for _, f := range a.Flags {
		types = append(types, f.Type)
	}
	auditservice.Emit(ctx, e.audit, e.log, auditdomain.Event{
		Action:     auditdomain.ActionFraudAlert,
		Severity:   severity,
		TargetType: "payment",
		TargetID:   c.TransactionID,
		ActorID:    "system",
		Metadata: map[string]any{
			"risk_score":  a.RiskScore,
			"flags":       types,
			"blocked":     a.Blocked,
			"merchant_id": c.MerchantID.String(),
		},
		OccurredAt: a.CheckedAt,
	})
}

func (e *Engine) checkVelocity(ctx context.Context, c domain.Candidate, cfg config.RiskConfig) ([]domain.Flag, error) {
	var flags []domain.Flag

	merchant, err := e.tracker.Record(ctx, "merchant:"+c.MerchantID.String()+":hour", c.SourceAmount, cfg.VelocityWindow)
	if err != nil {
		return nil, err
	}
	customer, err := e.tracker.Record(ctx, "customer:"+c.VelocitySubject()+":hour", c.SourceAmount, cfg.VelocityWindow)
	if err != nil {
		return nil, err
	}

	if merchant.Count >= cfg.MerchantHourlyLimit {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagMerchantVelocityExceeded,
			Message:  fmt.Sprintf("Merchant exceeded %d transactions/hour", cfg.MerchantHourlyLimit),
			Severity: domain.SeverityHigh,
		})
	}
	if merchant.Amount+c.SourceAmount > cfg.MerchantHourlyAmount {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagMerchantAmountVelocity,
			Message:  "Merchant approaching hourly amount limit",
			Severity: domain.SeverityMedium,
		})
	}
	if customer.Count >= cfg.CustomerHourlyLimit {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagCustomerVelocityExceeded,
			Message:  fmt.Sprintf("Customer exceeded %d transactions/hour", cfg.CustomerHourlyLimit),
			Severity: domain.SeverityHigh,
		})
	}
	return flags, nil
}

func (e *Engine) checkDuplicate(ctx context.Context, c domain.Candidate, cfg config.RiskConfig) ([]domain.Flag, error) {
	ids, err := e.repo.FindSimilar(ctx, e.db, domain.SimilarQuery{
		MerchantID:    c.MerchantID,
		Amount:        c.SourceAmount,
		Currency:      c.SourceCurrency,
		CustomerEmail: c.CustomerEmail,
		Since:         e.clock.Now().Add(-cfg.DuplicateWindow),
		Limit:         cfg.DuplicateLimit,
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return []domain.Flag{{
		Type:                domain.FlagPotentialDuplicate,
		Message:             fmt.Sprintf("%d similar transaction(s) in last %d minutes", len(ids), int(cfg.DuplicateWindow.Minutes())),
		Severity:            domain.SeverityMedium,
		RelatedTransactions: ids,
	}}, nil
}

func (e *Engine) checkAmount(ctx context.Context, c domain.Candidate, cfg config.RiskConfig) ([]domain.Flag, error) {
	var flags []domain.Flag
	if c.SourceAmount > cfg.MaxAmount {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagAmountExceedsLimit,
			Message:  fmt.Sprintf("Transaction amount %s exceeds limit %s", formatAmount(c.SourceAmount), formatAmount(cfg.MaxAmount)),
			Severity: domain.SeverityHigh,
		})
	}

	stats, err := e.repo.CompletedAmountStats(ctx, e.db, c.MerchantID)
	if err != nil {
		return nil, err
	}
	if stats.Count > 0 && stats.StdDev > 0 && c.SourceAmount > stats.Mean+cfg.StdDevMultiplier*stats.StdDev {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagUnusualAmount,
			Message:  fmt.Sprintf("Amount significantly higher than merchant average (%.2f)", stats.Mean),
			Severity: domain.SeverityMedium,
		})
	}
	return flags, nil
}

func (e *Engine) checkRate(_ context.Context, c domain.Candidate, _ config.RiskConfig) ([]domain.Flag, error) {
	if c.RateSource != "fallback" {
		return nil, nil
	}
	return []domain.Flag{{
		Type:     domain.FlagFallbackRateUsed,
		Message:  "Exchange rate from fallback source",
		Severity: domain.SeverityLow,
	}}, nil
}

func (e *Engine) checkPattern(_ context.Context, c domain.Candidate, cfg config.RiskConfig) ([]domain.Flag, error) {
	var flags []domain.Flag
	if c.SourceAmount >= cfg.RoundAmountMin && money.IsMultipleOf(c.SourceAmount, cfg.RoundAmountStep) {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagRoundAmount,
			Message:  "Suspiciously round transaction amount",
			Severity: domain.SeverityLow,
		})
	}

	hour := e.clock.Now().In(cfg.LoadLocation()).Hour()
	if hour >= cfg.UnusualHourStart && hour <= cfg.UnusualHourEnd {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagUnusualHour,
			Message:  fmt.Sprintf("Transaction at unusual hour (%d-%d AM)", cfg.UnusualHourStart, cfg.UnusualHourEnd),
			Severity: domain.SeverityLow,
		})
	}

	if c.CustomerID == "" && c.SourceAmount > cfg.AnonymousAmountLimit {
		flags = append(flags, domain.Flag{
			Type:     domain.FlagNewCustomerHighAmount,
			Message:  "Anonymous customer with high transaction amount",
			Severity: domain.SeverityMedium,
		})
	}
	return flags, nil
}

func (e *Engine) Stats(ctx context.Context, r domain.DateRange) (domain.Stats, error) {
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return domain.Stats{}, domain.ErrInvalidRange
	}
	cfg := e.risk.Get()

	var (
		stats  domain.Stats
		groups [][]domain.Flag
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.repo.CountHighRisk(gctx, e.db, r, cfg.AlertScore)
		stats.HighRiskTransactions = n
		return err
	})
	g.Go(func() error {
		n, err := e.repo.CountBlocked(gctx, e.db, r)
		stats.BlockedTransactions = n
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = e.repo.ListFlags(gctx, e.db, r)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Stats{}, err
	}

	counts := make(map[string]int)
	for _, flags := range groups {
		for _, f := range flags {
			counts[f.Type]++
		}
	}
	stats.FlagDistribution = make([]domain.FlagCount, 0, len(counts))
	for t, n := range counts {
		stats.FlagDistribution = append(stats.FlagDistribution, domain.FlagCount{Type: t, Count: n})
	}
	sort.Slice(stats.FlagDistribution, func(i, j int) bool {
		a, b := stats.FlagDistribution[i], stats.FlagDistribution[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})
	stats.GeneratedAt = e.clock.Now()
	return stats, nil
}

func (e *Engine) SweepVelocity(ctx context.Context) (int, error) {
	return e.tracker.Sweep(ctx)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
