// Package sla computes acceptance and delivery deadlines and breach state.
// Breach is a derived predicate, never a stored flag: a deadline has passed
// and the corresponding milestone timestamp is still unset. All functions are
// read-only and safe to call concurrently and repeatedly.
package sla

import (
	"sort"
	"time"

	"github.com/gatewise/tarmac/internal/entity"
)

// Windows holds the per-merchant SLA windows.
type Windows struct {
	Acceptance time.Duration
	Delivery   time.Duration
}

// AcceptanceDeadline is created_at plus the acceptance window.
func AcceptanceDeadline(o *entity.Order, w Windows) time.Time {
	return o.CreatedAt.Add(w.Acceptance)
}

// DeliveryDeadline is created_at plus the delivery window.
func DeliveryDeadline(o *entity.Order, w Windows) time.Time {
	return o.CreatedAt.Add(w.Delivery)
}

// IsAcceptanceBreached reports whether the acceptance deadline passed before
// the order was accepted. Once accepted_at is set this is permanently false.
func IsAcceptanceBreached(o *entity.Order, w Windows, now time.Time) bool {
	return o.AcceptedAt == nil && now.After(AcceptanceDeadline(o, w))
}

// IsDeliveryBreached reports whether the delivery deadline passed before the
// order was delivered. Once delivered_at is set this is permanently false.
func IsDeliveryBreached(o *entity.Order, w Windows, now time.Time) bool {
	return o.DeliveredAt == nil && now.After(DeliveryDeadline(o, w))
}

// Rollup aggregates SLA performance over a merchant's closed orders. It is
// recomputed from history on demand rather than maintained incrementally, so
// there is never a second source of truth to drift.
type Rollup struct {
	MerchantID          string  `json:"merchant_id"`
	ClosedOrders        int     `json:"closed_orders"`
	MedianAcceptSeconds float64 `json:"median_accept_seconds"`
	P95AcceptSeconds    float64 `json:"p95_accept_seconds"`
	AcceptanceBreachPct float64 `json:"acceptance_breach_pct"`
	OnTimeDeliveryPct   float64 `json:"on_time_delivery_pct"`
}

// Compute builds a Rollup from closed orders (terminal status). Orders that
// were never accepted count as acceptance breaches; delivered orders count as
// on-time when delivery happened within the window.
func Compute(merchantID string, orders []*entity.Order, w Windows) Rollup {
	r := Rollup{MerchantID: merchantID}

	var acceptSeconds []float64
	var acceptBreaches, delivered, onTime int

	for _, o := range orders {
		if !o.Status.IsTerminal() {
			continue
		}
		r.ClosedOrders++

		if o.AcceptedAt == nil {
			acceptBreaches++
		} else {
			elapsed := o.AcceptedAt.Sub(o.CreatedAt)
			acceptSeconds = append(acceptSeconds, elapsed.Seconds())
			if elapsed > w.Acceptance {
				acceptBreaches++
			}
		}

		if o.DeliveredAt != nil {
			delivered++
			if !o.DeliveredAt.After(DeliveryDeadline(o, w)) {
				onTime++
			}
		}
	}

	if r.ClosedOrders == 0 {
		return r
	}

	if len(acceptSeconds) > 0 {
		sort.Float64s(acceptSeconds)
		r.MedianAcceptSeconds = percentile(acceptSeconds, 0.50)
		r.P95AcceptSeconds = percentile(acceptSeconds, 0.95)
	}
	r.AcceptanceBreachPct = 100 * float64(acceptBreaches) / float64(r.ClosedOrders)
	if delivered > 0 {
		r.OnTimeDeliveryPct = 100 * float64(onTime) / float64(delivered)
	}
	return r
}

// percentile uses nearest-rank on an already sorted slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
