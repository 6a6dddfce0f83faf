package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/lanes/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "lanes/http"

// GinMiddleware opens a server span per request. The span is renamed after
// routing so it carries the route template instead of the raw path.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(httpTracerName)
	return func(c *gin.Context) {
		parent := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(parent, spanName(c.Request.Method, ""), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		span.SetName(spanName(c.Request.Method, route))
		span.SetAttributes(SafeAttributes(requestAttributes(c, route)...)...)

		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			span.RecordError(SafeError(last.Err))
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func spanName(method, route string) string {
	if route == "" {
		return "HTTP " + method
	}
	return "HTTP " + method + " " + route
}

// requestAttributes reads the request context after handlers ran, so the
// actor and tournament set by downstream middleware are visible.
func requestAttributes(c *gin.Context, route string) []attribute.KeyValue {
	if route == "" {
		route = "unknown"
	}
	ctx := c.Request.Context()
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", c.Writer.Status()),
	}
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if kind, _ := obscontext.ActorFromContext(ctx); kind != "" {
		attrs = append(attrs, attribute.String("actor.kind", kind))
	}
	if tournament := c.Param("tournament"); tournament != "" {
		attrs = append(attrs, attribute.String("tournament", tournament))
	} else if tournament := obscontext.TournamentFromContext(ctx); tournament != "" {
		attrs = append(attrs, attribute.String("tournament", tournament))
	}
	return attrs
}
