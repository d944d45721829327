package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Actor identifiers used in event log entries. Free-form identifiers (staff
// logins, runner ids) are also valid actors.
const (
	ActorSystem = "system"
)

// EventLogEntry is one immutable line in an order's append-only history.
// Entries are never edited or removed; current order status is a projection
// over this log, not the other way around.
type EventLogEntry struct {
	bun.BaseModel `bun:"table:order_events" json:"-"`

	ID        int64             `bun:",pk,autoincrement" json:"id"`
	OrderID   int64             `bun:"order_id" json:"order_id"`
	Timestamp time.Time         `bun:"timestamp,notnull" json:"timestamp"`
	Actor     string            `bun:"actor" json:"actor"`
	Action    string            `bun:"action" json:"action"`
	Details   map[string]string `bun:"details,type:jsonb" json:"details,omitempty"`
}
