package service

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/internal/idempotency/domain"
	"github.com/smallbiznis/fxpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var clientKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

type Params struct {
	fx.In

	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
	Store  domain.Store
}

type Guard struct {
	log     *zap.Logger
	clock   clock.Clock
	store   domain.Store
	ttl     time.Duration
	metrics *metrics.PaymentMetrics
}

func New(p Params) domain.Service {
	ttl := p.Config.Idempotency.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{
		log:     p.Log.Named("idempotency.service"),
		clock:   p.Clock,
		store:   p.Store,
		ttl:     ttl,
		metrics: metrics.Payments(),
	}
}

// Key builds the composite record key. An empty actor is recorded as anon.
func Key(clientKey, actor, endpoint string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = domain.AnonymousActor
	}
	return actor + ":" + endpoint + ":" + clientKey
}

func ValidKey(clientKey string) bool {
	return clientKeyPattern.MatchString(clientKey)
}

func (g *Guard) Begin(ctx context.Context, clientKey, actor, endpoint string) (domain.Decision, error) {
	if !ValidKey(clientKey) {
		return domain.Decision{}, domain.ErrInvalidKey
	}
	key := Key(clientKey, actor, endpoint)

	rec, reserved, err := g.store.Reserve(ctx, key, g.clock.Now(), g.ttl)
	if err != nil {
		return domain.Decision{}, err
	}
	if reserved {
		g.metrics.IncIdempotencyDecision("proceed")
		return domain.Decision{Key: key, Proceed: true}, nil
	}

	switch rec.Status {
	case domain.StatusProcessing:
		g.metrics.IncIdempotencyDecision("conflict")
		return domain.Decision{}, domain.ErrConflict
	case domain.StatusError:
		if rec.Retryable {
			g.metrics.IncIdempotencyDecision("retry")
			return domain.Decision{Key: key, Proceed: true}, nil
		}
	}

	g.metrics.IncIdempotencyDecision("replay")
	g.log.Debug("replaying idempotent response", zap.String("key", key), zap.Int("status_code", rec.StatusCode))
	return domain.Decision{
		Key:    key,
		Replay: true,
		Response: domain.Response{
			StatusCode: rec.StatusCode,
			Body:       append([]byte(nil), rec.Body...),
		},
	}, nil
}

func (g *Guard) Complete(ctx context.Context, key string, statusCode int, body []byte) error {
	now := g.clock.Now()
	rec, err := g.store.Get(ctx, key, now)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrRecordNotFound
	}

	rec.StatusCode = statusCode
	rec.Body = append([]byte(nil), body...)
	rec.CompletedAt = &now
	if statusCode >= http.StatusBadRequest {
		rec.Status = domain.StatusError
		rec.Retryable = statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests
	} else {
		rec.Status = domain.StatusCompleted
		rec.Retryable = false
	}
	return g.store.Finish(ctx, *rec, now)
}

func (g *Guard) Status(ctx context.Context, clientKey, actor, endpoint string) (*domain.Record, error) {
	if !ValidKey(clientKey) {
		return nil, domain.ErrInvalidKey
	}
	return g.store.Get(ctx, Key(clientKey, actor, endpoint), g.clock.Now())
}

func (g *Guard) Sweep(ctx context.Context) (int, error) {
	return g.store.Sweep(ctx, g.clock.Now())
}
