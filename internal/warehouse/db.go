package warehouse

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"etl-personal/internal/config"
)

// Open connects to the configured warehouse database. SQLite serves local
// runs and tests, Postgres the deployed pipeline; both the loader and the
// state tracker share the returned handle.
func Open(cfg config.StorageConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch cfg.Type {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite warehouse: %w", err)
		}
		return db, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres warehouse: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
