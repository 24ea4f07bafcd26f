package projection

import (
	"github.com/smallbiznis/stockledger/internal/projection/repository"
	"github.com/smallbiznis/stockledger/internal/projection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("projection.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
