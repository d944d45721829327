// Package http aggregates the HTTP transport handlers.
package http

import (
	"go.uber.org/fx"

	"github.com/gatewise/tarmac/internal/transport/http/admin"
	"github.com/gatewise/tarmac/internal/transport/http/audit"
	"github.com/gatewise/tarmac/internal/transport/http/order"
	"github.com/gatewise/tarmac/internal/transport/http/refund"
)

// Module bundles every HTTP handler group.
var Module = fx.Options(
	order.Module,
	refund.Module,
	audit.Module,
	admin.Module,
)
