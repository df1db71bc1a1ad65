package assignment

import (
	"go.uber.org/fx"
)

var Module = fx.Module("assignment.service",
	fx.Provide(NewService),
)
