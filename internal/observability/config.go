package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/lanes/internal/config"
	"github.com/smallbiznis/lanes/internal/observability/logger"
	"github.com/smallbiznis/lanes/internal/observability/metrics"
	"github.com/smallbiznis/lanes/internal/observability/tracing"
)

// Config is the observability view of the process environment. Values fall
// back to the application config when the OTEL_* and LOG_* variables are unset.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

var debugEnvironments = map[string]bool{"dev": true, "development": true, "local": true, "test": true}

func LoadConfig(app config.Config) Config {
	env := envReader(os.Getenv)

	protocol := env.str("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	protocol = env.str("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", protocol)

	return Config{
		ServiceName:          nonEmpty(app.AppName, "lanes"),
		Environment:          env.str("DEPLOYMENT_ENV", app.Environment),
		Version:              env.str("SERVICE_VERSION", app.AppVersion),
		LogLevel:             strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env.str("LOG_FORMAT", "json")),
		OtelEnabled:          env.flag("OTEL_ENABLED"),
		OtelExporterEndpoint: env.str("OTEL_EXPORTER_OTLP_ENDPOINT", app.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    env.ratio("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug enables stack traces on errors and verbose request logs.
func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug") ||
		debugEnvironments[strings.ToLower(strings.TrimSpace(c.Environment))]
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
	}
}

type envReader func(string) string

func (r envReader) str(key, def string) string {
	return nonEmpty(r(key), def)
}

func (r envReader) flag(key string) bool {
	on, err := strconv.ParseBool(strings.TrimSpace(r(key)))
	return err == nil && on
}

// ratio parses a sampling ratio, ignoring values outside [0, 1].
func (r envReader) ratio(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r(key)), 64)
	if err != nil || v < 0 || v > 1 {
		return def
	}
	return v
}

func nonEmpty(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return strings.TrimSpace(def)
}
