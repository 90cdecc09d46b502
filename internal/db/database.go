package db

import (
	"fmt"
	"log"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects to postgres and migrates the schema
func InitDB(cfg *config.Config) error {
	if cfg == nil || cfg.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	var err error
	DB, err = gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("✅ Database connected successfully")

	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := DB.AutoMigrate(
		&models.BridgeRequest{},
		&models.Redemption{},
		&models.CrossChainJob{},
		&models.CrossChainLeg{},
		&models.RouteQuote{},
	); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}

	log.Println("✅ Database schema migrated successfully")
	return nil
}

// Close releases the underlying connection pool
func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
