package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lojf/paygate/internal/config"
	"github.com/lojf/paygate/internal/models"
)

// Open connects to the configured store and migrates it. Callers treat an
// error here as fatal: the ledgers have no meaning without storage.
func Open(cfg config.DatabaseConfig, logger gormlogger.Interface, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL database: %w", err)
	}
	if cfg.Driver != "postgres" {
		// SQLite works best with a single writer; cap the pool accordingly.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(conn); err != nil {
		return nil, err
	}

	log.Info("database ready", zap.String("driver", conn.Dialector.Name()))
	return conn, nil
}

// Migrate creates the tables and the composite indexes GORM doesn't
// auto-create from struct tags.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Payment{},
		&models.PaymentSession{},
	); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_pay_status_created ON payments(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_sess_status_expires ON payment_sessions(status, expires_at)",
	} {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
