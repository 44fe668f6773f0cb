// Package repo is the persistence layer: GORM over pure-Go SQLite. This
// file opens the database and runs schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/coria/go-payments-backend/internal/domain"
)

// OpenSQLite opens or creates the database at path, wires query tracing,
// and applies the PRAGMAs the payments workload needs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// A missing parent directory surfaces as a confusing sqlite error
	// ("out of memory (14)" on some platforms), so reject it up front.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Trace queries alongside HTTP spans.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all persistence models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Payment{},
		&domain.Wallet{},
		&domain.LedgerEntry{},
		&domain.PremiumPlan{},
		&domain.PremiumSubscription{},
		&domain.Idempotency{},
		&domain.RateLimitViolation{},
	)
}
