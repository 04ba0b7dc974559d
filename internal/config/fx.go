package config

import "go.uber.org/fx"

// Module provides the environment config and the hot-reloading tuning holder.
var Module = fx.Options(
	fx.Provide(Load),
	fx.Provide(NewTuningHolder),
)
