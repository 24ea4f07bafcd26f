package migration

import (
	"context"

	"github.com/smallbiznis/stockledger/internal/config"
	"github.com/smallbiznis/stockledger/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date and, when enabled, seeds the reference
// data the engine needs to post.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType == config.DBTypePostgres {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
	} else if err := AutoMigrate(conn); err != nil {
		return err
	}
	log.Info("schema ready", zap.String("db_type", cfg.DBType))

	if !cfg.SeedOnStart {
		return nil
	}
	return seed.Ensure(context.Background(), conn, seed.Options{
		FunctionalCurrency: cfg.FunctionalCurrency,
	})
}
