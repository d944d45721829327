package order

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatewise/tarmac/internal/entity"
	"github.com/gatewise/tarmac/internal/lifecycle"
	"github.com/gatewise/tarmac/internal/presentation/http/response"
	service "github.com/gatewise/tarmac/internal/service/order"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/gatewise/tarmac/transport/http/order")

// Handler exposes order lifecycle endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:id", h.snapshot)
	g.GET("/:id/events", h.events)
	g.POST("/:id/transitions", h.transition)
	e.GET("/sla/rollup", h.rollup)
}

type itemPayload struct {
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unit_price"`
	Modifiers []entity.Modifier `json:"modifiers"`
	Notes     string            `json:"notes"`
}

type createPayload struct {
	MerchantID     string        `json:"merchant_id"`
	Items          []itemPayload `json:"items"`
	Currency       string        `json:"currency"`
	Gate           string        `json:"gate"`
	Zone           string        `json:"zone"`
	FlightNumber   string        `json:"flight_number"`
	DepartureTime  time.Time     `json:"departure_time"`
	PassengerAlias string        `json:"passenger_alias"`
	PassengerPhone string        `json:"passenger_phone"`
	PaymentMethod  string        `json:"payment_method"`
	Discount       int64         `json:"discount"`
	ServiceFee     int64         `json:"service_fee"`
	CouponCode     *string       `json:"coupon_code"`
	Priority       bool          `json:"priority"`
	Actor          string        `json:"actor"`
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload createPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}

	items := make([]*entity.OrderItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		items = append(items, &entity.OrderItem{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Modifiers: it.Modifiers,
			Notes:     it.Notes,
			Available: true,
		})
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create",
		trace.WithAttributes(attribute.String("merchant.id", payload.MerchantID)))
	defer span.End()

	order, err := h.svc.Create(ctx, entity.NewOrderInput{
		MerchantID: payload.MerchantID,
		Items:      items,
		Currency:   payload.Currency,
		Destination: entity.Destination{
			Gate:          payload.Gate,
			Zone:          payload.Zone,
			FlightNumber:  payload.FlightNumber,
			DepartureTime: payload.DepartureTime,
		},
		PassengerAlias: payload.PassengerAlias,
		PassengerPhone: payload.PassengerPhone,
		PaymentMethod:  payload.PaymentMethod,
		Discount:       payload.Discount,
		ServiceFee:     payload.ServiceFee,
		CouponCode:     payload.CouponCode,
		Priority:       payload.Priority,
	}, payload.Actor)
	if err != nil {
		return b.WithError(err).Build()
	}

	snapshot, err := h.svc.Snapshot(ctx, order.ID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(snapshot).Build()
}

func (h *Handler) snapshot(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.snapshot",
		trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	snapshot, err := h.svc.Snapshot(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(snapshot).Build()
}

func (h *Handler) events(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.events",
		trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	events, err := h.svc.Events(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(events).WithMeta("count", len(events)).Build()
}

type transitionPayload struct {
	Target   entity.OrderStatus `json:"target"`
	Actor    string             `json:"actor"`
	Metadata map[string]string  `json:"metadata"`
}

func (h *Handler) transition(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload transitionPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.transition", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.target", string(payload.Target)),
	))
	defer span.End()

	if _, err := h.svc.Transition(ctx, id, payload.Target, payload.Actor, lifecycle.Metadata(payload.Metadata)); err != nil {
		return b.WithError(err).Build()
	}

	snapshot, err := h.svc.Snapshot(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(snapshot).Build()
}

func (h *Handler) rollup(c echo.Context) error {
	b := response.New(c)

	merchantID := c.QueryParam("merchant_id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.rollup",
		trace.WithAttributes(attribute.String("merchant.id", merchantID)))
	defer span.End()

	rollup, err := h.svc.Rollup(ctx, merchantID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(rollup).Build()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errorbank.Validation("invalid id", errorbank.WithCause(err))
	}
	return id, nil
}
