package factory

import (
	"github.com/diewerk/toolledger/internal/factory/domain"
	"github.com/diewerk/toolledger/internal/factory/service"
	"github.com/diewerk/toolledger/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("factory.service",
	fx.Provide(repository.ProvideStore[domain.Factory]),
	fx.Provide(service.NewService),
)
