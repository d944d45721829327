package audit

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatewise/tarmac/internal/audit"
	"github.com/gatewise/tarmac/internal/presentation/http/response"
)

var httpTracer = otel.Tracer("github.com/gatewise/tarmac/transport/http/audit")

// Handler serves the compliance feed and chain verification.
type Handler struct {
	recorder *audit.Recorder
}

// NewHandler constructs an audit Handler.
func NewHandler(recorder *audit.Recorder) *Handler {
	return &Handler{recorder: recorder}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/audit")
	g.GET("/feed", h.feed)
	g.GET("/verify", h.verify)
}

func (h *Handler) feed(c echo.Context) error {
	b := response.New(c)

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "audit.feed",
		trace.WithAttributes(attribute.Int("audit.limit", limit)))
	defer span.End()

	entries, err := h.recorder.Feed(ctx, limit)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(entries).WithMeta("count", len(entries)).Build()
}

func (h *Handler) verify(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "audit.verify")
	defer span.End()

	result, err := h.recorder.Verify(ctx)
	if err != nil {
		span.RecordError(err)
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}
