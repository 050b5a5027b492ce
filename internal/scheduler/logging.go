package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/fxpay/internal/observability/metrics"
	"github.com/smallbiznis/fxpay/pkg/log/ctxlogger"
	"github.com/smallbiznis/fxpay/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) newJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	return correlation.ContextWithCorrelationID(ctx, run.runID), run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return ctxlogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	base := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	}
	s.logger(ctx).Error(msg, append(base, fields...)...)
}
