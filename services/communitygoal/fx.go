package communitygoal

import (
	"go.uber.org/fx"
)

var Module = fx.Module("communitygoal.service",
	fx.Provide(NewService),
)
