package machinestate

import (
	"github.com/diewerk/toolledger/internal/machinestate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("machinestate.service",
	fx.Provide(service.NewService),
)
