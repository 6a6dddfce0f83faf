package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/lanes/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to an error type and code.
	ErrorClassifier func(err error) (string, string)
}

// quietRoutes are logged at debug so probes and scrapes do not flood output.
var quietRoutes = map[string]bool{"/health": true, "/metrics": true}

// GinMiddleware seeds the request context with a request id and the
// tournament path parameter, then writes one line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID(c))
		if tournament := strings.TrimSpace(c.Param("tournament")); tournament != "" {
			ctx = obscontext.WithTournament(ctx, tournament)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, cfg.errorFields(last.Err)...)
		}

		if ce := FromContext(c.Request.Context()).Check(requestLevel(route, c.Writer.Status()), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func (cfg MiddlewareConfig) errorFields(err error) []zap.Field {
	var kind, code string
	if cfg.ErrorClassifier != nil {
		kind, code = cfg.ErrorClassifier(err)
	}
	fields := []zap.Field{zap.String("error_type", kind), zap.String("error_code", code)}
	if cfg.Debug {
		fields = append(fields, zap.Stack("stack"))
	}
	return fields
}

func requestLevel(route string, status int) zapcore.Level {
	switch {
	case quietRoutes[route]:
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// requestID reuses the caller's X-Request-Id or mints one, and echoes it back.
func requestID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header(requestIDHeader, id)
	return id
}
