package gamification

import (
	"go.uber.org/fx"
)

var Module = fx.Module("gamification.service",
	fx.Provide(NewService),
)
