package admin

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/audit"
	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/presentation/http/response"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/gatewise/tarmac/transport/http/admin")

// Handler serves operational endpoints: governance policy reload.
type Handler struct {
	policies *config.PolicyStore
	auditor  *audit.Recorder
	logger   *zap.Logger
}

// NewHandler constructs an admin Handler.
func NewHandler(policies *config.PolicyStore, auditor *audit.Recorder, logger *zap.Logger) *Handler {
	return &Handler{policies: policies, auditor: auditor, logger: logger}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/admin/policy/reload", h.reloadPolicy)
}

type reloadPayload struct {
	Actor string `json:"actor"`
}

func (h *Handler) reloadPolicy(c echo.Context) error {
	b := response.New(c)

	var payload reloadPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.Actor == "" {
		return b.WithError(errorbank.Validation("actor is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "admin.policy.reload")
	defer span.End()

	before := h.policies.Current()
	after, err := h.policies.Reload()
	if err != nil {
		return b.WithError(errorbank.Validation("policy reload rejected", errorbank.WithCause(err))).Build()
	}

	if h.auditor != nil {
		if _, err := h.auditor.Record(ctx, payload.Actor, audit.CategoryPolicy,
			"policy_reloaded", "policy", "governance", before, after); err != nil && h.logger != nil {
			h.logger.Error("audit policy reload", zap.Error(err))
		}
	}

	return b.WithData(after).Build()
}
