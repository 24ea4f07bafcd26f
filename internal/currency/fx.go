package currency

import (
	"github.com/smallbiznis/stockledger/internal/cache"
	"github.com/smallbiznis/stockledger/internal/currency/repository"
	"github.com/smallbiznis/stockledger/internal/currency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("currency.service",
	fx.Provide(cache.NewRateCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
