package partition

import (
	"go.uber.org/fx"
)

// Module defines the Fx options for partition planning components.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewDefaultPlanner,
		fx.As(new(Planner)),
	)),
)
