package app

import (
	"go.uber.org/fx"

	"github.com/gatewise/tarmac/internal/audit"
	"github.com/gatewise/tarmac/internal/cache"
	"github.com/gatewise/tarmac/internal/clock"
	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/database"
	"github.com/gatewise/tarmac/internal/logger"
	"github.com/gatewise/tarmac/internal/messaging"
	"github.com/gatewise/tarmac/internal/observability"
	repositoryaudit "github.com/gatewise/tarmac/internal/repository/audit"
	repositoryorder "github.com/gatewise/tarmac/internal/repository/order"
	repositoryrefund "github.com/gatewise/tarmac/internal/repository/refund"
	httpserver "github.com/gatewise/tarmac/internal/server/http"
	serviceorder "github.com/gatewise/tarmac/internal/service/order"
	servicerefund "github.com/gatewise/tarmac/internal/service/refund"
	transporthttp "github.com/gatewise/tarmac/internal/transport/http"
	"github.com/gatewise/tarmac/internal/worker"
	workerlifecycle "github.com/gatewise/tarmac/internal/worker/lifecycle"
	workersweep "github.com/gatewise/tarmac/internal/worker/sweep"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	clock.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	repositoryorder.Module,
	repositoryrefund.Module,
	repositoryaudit.Module,
	audit.Module,
	serviceorder.Module,
	servicerefund.Module,
)

// HTTP wires the HTTP transport plus the in-process SLA sweep on top of the
// core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	transporthttp.Module,
	workersweep.Module,
)

// Worker exposes background message processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerlifecycle.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
