// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for persisted
// rate-limit violations.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/domain"
)

// CreateViolation records a rate-limit block. Persistence is best-effort;
// callers log and continue on error rather than failing the request.
func CreateViolation(ctx context.Context, db *gorm.DB, v *domain.RateLimitViolation) error {
	v.ID = uuid.NewString()
	if v.ViolatedAt.IsZero() {
		v.ViolatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(v).Error
}

// ListRecentViolations returns violations recorded at or after since,
// newest first. Used on startup to rebuild still-active blocks.
func ListRecentViolations(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.RateLimitViolation, error) {
	var out []domain.RateLimitViolation
	err := db.WithContext(ctx).
		Where("violated_at >= ?", since).
		Order("violated_at desc").
		Find(&out).Error
	return out, err
}

// PurgeViolationsBefore deletes violation rows older than cutoff and returns
// the number removed.
func PurgeViolationsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("violated_at < ?", cutoff).
		Delete(&domain.RateLimitViolation{})
	return res.RowsAffected, res.Error
}
