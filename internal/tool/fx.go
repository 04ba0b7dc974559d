package tool

import (
	"github.com/diewerk/toolledger/internal/tool/repository"
	"github.com/diewerk/toolledger/internal/tool/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tool.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
