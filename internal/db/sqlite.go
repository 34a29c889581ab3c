package db

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/food-log-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database at dsn and runs migrations.
// dsn may be a file path or a "file:" URI (e.g. an in-memory database for tests).
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(os.Stdout),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	// SQLite allows a single writer; serialize access through one connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// newGormLogger reports slow queries and real errors. Lookups that miss are an
// expected outcome of credential checks and stay quiet.
func newGormLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.FitbitCredential{},
		&models.CredentialIdentity{},
		&models.SubmissionLog{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	log.Printf("📦 Database schema ready")
	return nil
}
