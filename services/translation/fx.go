package translation

import (
	"go.uber.org/fx"
)

var Module = fx.Module("translation.service",
	fx.Provide(NewService),
)
