package refund

import "go.uber.org/fx"

// Module provides the refund repository to Fx as the Store contract.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(Store))),
)
