package operations

import "go.uber.org/fx"

var Module = fx.Module("operations",
	fx.Provide(New),
)
