package observability

import (
	"github.com/smallbiznis/lanes/internal/observability/errtrack"
	"github.com/smallbiznis/lanes/internal/observability/logger"
	"github.com/smallbiznis/lanes/internal/observability/metrics"
	"github.com/smallbiznis/lanes/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the logger, tracer and meter providers, registration metrics
// and the error tracker. The tracer provider is forced so spans are exported
// even when nothing else depends on it.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		errtrack.New,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
