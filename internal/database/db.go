package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
)

var DB *gorm.DB

// Init opens the database and migrates the schema. dbType is "sqlite"
// (default, pure-Go driver), "sqlite-cgo" (faster, needs cgo) or
// "postgres"; dsn is a file path for the sqlite variants.
func Init(dbType, dsn string) error {
	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite-cgo", "":
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create database dir: %w", err)
			}
		}
		if dbType == "sqlite-cgo" {
			dialector = cgosqlite.Open(dsn)
		} else {
			dialector = sqlite.Open(dsn)
		}
	default:
		return fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	err = db.AutoMigrate(
		&models.AccountStatus{},
		&models.HistoryEntry{},
		&models.JoinEvent{},
		&models.WatchUser{},
		&models.Setting{},
		&models.APIHealthStat{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	DB = db
	return nil
}

func Close() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}
	sqlDB.Close()
}

// WithRetry retries an operation a few times with a short delay, mainly
// for transient sqlite busy/locked errors.
func WithRetry(op func() error) error {
	const maxAttempts = 3
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	return err
}
