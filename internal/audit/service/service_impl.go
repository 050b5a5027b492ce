package service

import (
	"context"
	"strings"

	auditdomain "github.com/smallbiznis/fxpay/internal/audit/domain"
	"github.com/smallbiznis/fxpay/internal/audit/masking"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/pkg/log/ctxlogger"
	"github.com/smallbiznis/fxpay/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
}

// LogSink writes audit events as structured log lines on a dedicated logger.
type LogSink struct {
	log   *zap.Logger
	clock clock.Clock
}

func NewLogSink(p Params) auditdomain.Sink {
	return &LogSink{
		log:   p.Log.Named("audit"),
		clock: p.Clock,
	}
}

func (s *LogSink) Record(ctx context.Context, evt auditdomain.Event) error {
	if strings.TrimSpace(evt.Action) == "" {
		return auditdomain.ErrInvalidAction
	}
	if evt.Severity == "" {
		evt.Severity = auditdomain.SeverityInfo
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.clock.Now()
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = correlation.ExtractCorrelationID(ctx)
	}

	fields := []zap.Field{
		zap.String("action", evt.Action),
		zap.String("severity", evt.Severity),
		zap.Time("occurred_at", evt.OccurredAt),
	}
	if evt.TargetType != "" {
		fields = append(fields, zap.String("target_type", evt.TargetType), zap.String("target_id", evt.TargetID))
	}
	if evt.ActorID != "" {
		fields = append(fields, zap.String("actor_id", evt.ActorID))
	}
	if evt.Method != "" || evt.Path != "" {
		fields = append(fields, zap.String("method", evt.Method), zap.String("path", evt.Path))
	}
	if md := masking.MaskJSON(evt.Metadata); len(md) > 0 {
		fields = append(fields, zap.Any("metadata", md))
	}

	log := ctxlogger.WithContext(correlation.ContextWithCorrelationID(ctx, evt.CorrelationID), s.log)
	switch evt.Severity {
	case auditdomain.SeverityCritical:
		log.Error("audit event", fields...)
	case auditdomain.SeverityWarning:
		log.Warn("audit event", fields...)
	default:
		log.Info("audit event", fields...)
	}
	return nil
}

// Emit records evt without letting a sink failure reach the caller.
func Emit(ctx context.Context, sink auditdomain.Sink, log *zap.Logger, evt auditdomain.Event) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("audit sink panicked", zap.String("action", evt.Action), zap.Any("panic", r))
		}
	}()
	if err := sink.Record(ctx, evt); err != nil {
		log.Warn("failed to record audit event", zap.String("action", evt.Action), zap.Error(err))
	}
}
