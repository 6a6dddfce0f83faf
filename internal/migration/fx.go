package migration

import (
	"strings"

	"github.com/smallbiznis/lanes/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		dialect := strings.ToLower(strings.TrimSpace(cfg.DBType))
		if dialect != "postgres" && dialect != "" {
			log.Info("migrating schema from models", zap.String("dialect", dialect))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
