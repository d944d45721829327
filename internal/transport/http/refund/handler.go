package refund

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatewise/tarmac/internal/dto"
	"github.com/gatewise/tarmac/internal/entity"
	"github.com/gatewise/tarmac/internal/presentation/http/response"
	service "github.com/gatewise/tarmac/internal/service/refund"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/gatewise/tarmac/transport/http/refund")

// Handler exposes refund request and resolution endpoints.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a refund Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/orders/:id/refunds", h.request)
	e.POST("/refunds/:id/resolution", h.resolve)
}

type requestPayload struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes"`
	Requester string `json:"requester"`
}

func (h *Handler) request(c echo.Context) error {
	b := response.New(c)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.Validation("invalid order id", errorbank.WithCause(err))).Build()
	}

	var payload requestPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "refunds.request", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("refund.amount", payload.Amount),
	))
	defer span.End()

	result, err := h.svc.Request(ctx, service.RequestInput{
		OrderID:   orderID,
		Amount:    payload.Amount,
		Reason:    entity.RefundReason(payload.Reason),
		Notes:     payload.Notes,
		Requester: payload.Requester,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromRefund(result.Refund, result.Flags)).Build()
}

type resolvePayload struct {
	Decision string `json:"decision"`
	Resolver string `json:"resolver"`
}

func (h *Handler) resolve(c echo.Context) error {
	b := response.New(c)

	refundID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.Validation("invalid refund id", errorbank.WithCause(err))).Build()
	}

	var payload resolvePayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}

	var approve bool
	switch payload.Decision {
	case "approve":
		approve = true
	case "decline":
		approve = false
	default:
		return b.WithError(errorbank.Validation("decision must be approve or decline",
			errorbank.WithDetail("decision", payload.Decision))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "refunds.resolve", trace.WithAttributes(
		attribute.Int64("refund.id", refundID),
		attribute.String("refund.decision", payload.Decision),
	))
	defer span.End()

	record, err := h.svc.Resolve(ctx, refundID, approve, payload.Resolver)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromRefund(record, nil)).Build()
}
