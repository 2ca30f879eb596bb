package partners

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/config"
	"github.com/anthrotech-dev/partners/logging"
)

// Open connects to postgres and installs the module's listeners.
func Open(cfg config.Database, log *zap.Logger) (*gorm.DB, *Registry, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         logging.Gorm(log, cfg.SlowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	reg, err := Install(db, log)
	if err != nil {
		return nil, nil, err
	}
	return db, reg, nil
}
