package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/usageguard/internal/config"
	eventdomain "github.com/smallbiznis/usageguard/internal/event/domain"
)

// Module applies the schema at startup. Postgres gets versioned SQL
// migrations; sqlite and mysql fall back to AutoMigrate since the
// migration files use postgres types.
var Module = fx.Module("migration",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType != "postgres" {
			log.Info("auto-migrating schema", zap.String("db_type", cfg.DBType))
			return conn.AutoMigrate(&eventdomain.UsageEvent{})
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunPostgres(sqlDB); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	}),
)
