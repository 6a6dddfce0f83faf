package errtrack

import (
	"context"

	obslogger "github.com/smallbiznis/lanes/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/lanes/internal/observability/metrics"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Reporter forwards unexpected failures to the error tracker.
type Reporter interface {
	Report(ctx context.Context, component string, err error, fields ...zap.Field)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type reporter struct {
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) Reporter {
	return &reporter{
		log:        p.Log.Named("errtrack"),
		obsMetrics: p.ObsMetrics,
	}
}

func (r *reporter) Report(ctx context.Context, component string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, component)

	fields = append(fields, zap.String("component", component), zap.Error(err))
	obslogger.WithContext(ctx, r.log).Error("error reported", fields...)
	if r.obsMetrics != nil {
		r.obsMetrics.RecordError(ctx, component)
	}
}

// Nop discards reports.
type Nop struct{}

func (Nop) Report(context.Context, string, error, ...zap.Field) {}
