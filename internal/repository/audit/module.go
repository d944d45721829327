package audit

import (
	"go.uber.org/fx"

	auditchain "github.com/gatewise/tarmac/internal/audit"
)

// Module provides the audit repository to Fx as the chain Store contract.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(auditchain.Store))),
)
