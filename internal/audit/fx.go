package audit

import (
	"github.com/diewerk/toolledger/internal/audit/repository"
	"github.com/diewerk/toolledger/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
