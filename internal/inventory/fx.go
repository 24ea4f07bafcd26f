package inventory

import (
	"github.com/smallbiznis/stockledger/internal/inventory/repository"
	"github.com/smallbiznis/stockledger/internal/inventory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
