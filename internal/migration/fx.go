package migration

import (
	"context"

	"github.com/smallbiznis/creditmeter/internal/config"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the schema on startup when enabled and makes sure the
// tier catalog exists.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, subs subscriptiondomain.Service, log *zap.Logger) error {
		if cfg.RunMigrations {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			log.Info("database migrated")
		}
		return subs.SeedTiers(context.Background())
	}),
)
