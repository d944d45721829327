package refund

import "go.uber.org/fx"

// Module provides the refund service to Fx.
var Module = fx.Provide(NewService)
