// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for premium plans
// and subscriptions.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/domain"
)

// GetPlanByType returns the plan with the given plan_type, or ErrNotFound.
func GetPlanByType(ctx context.Context, db *gorm.DB, planType string) (*domain.PremiumPlan, error) {
	var p domain.PremiumPlan
	err := db.WithContext(ctx).
		Where("plan_type = ?", planType).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns the full plan catalog ordered by price ascending.
func ListPlans(ctx context.Context, db *gorm.DB) ([]domain.PremiumPlan, error) {
	var out []domain.PremiumPlan
	err := db.WithContext(ctx).Order("price_units asc").Find(&out).Error
	return out, err
}

// UpsertPlan inserts the plan if its plan_type is new, otherwise updates the
// price, duration, and feature set in place. Used by the startup seeder so
// catalog changes roll out without manual migrations.
func UpsertPlan(ctx context.Context, db *gorm.DB, plan *domain.PremiumPlan) error {
	var existing domain.PremiumPlan
	err := db.WithContext(ctx).
		Where("plan_type = ?", plan.PlanType).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		plan.ID = uuid.NewString()
		plan.CreatedAt = time.Now().UTC()
		return db.WithContext(ctx).Create(plan).Error
	}
	if err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(&existing).
		Updates(map[string]any{
			"name":          plan.Name,
			"price_units":   plan.PriceUnits,
			"duration_days": plan.DurationDays,
			"features":      plan.Features,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// GetActiveSubscription returns the single active subscription for userID,
// or ErrNotFound. Expiry is not evaluated here; callers decide whether a
// past-due row should be lazily expired.
func GetActiveSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.PremiumSubscription, error) {
	var s domain.PremiumSubscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.SubActive).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubscription inserts a new subscription row.
func CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.PremiumSubscription) (*domain.PremiumSubscription, error) {
	s.ID = uuid.NewString()
	s.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// ExtendSubscription moves an active subscription's expiry forward and
// re-links it to the paying payment. Returns ErrNotFound if the row is no
// longer active.
func ExtendSubscription(ctx context.Context, db *gorm.DB, id string, expiresAt *time.Time, planID, paymentID string) error {
	res := db.WithContext(ctx).
		Model(&domain.PremiumSubscription{}).
		Where("id = ? AND status = ?", id, domain.SubActive).
		Updates(map[string]any{
			"expires_at": expiresAt,
			"plan_id":    planID,
			"payment_id": paymentID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetSubscriptionStatus transitions a subscription to the given status.
func SetSubscriptionStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.PremiumSubscription{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExpireOverdueSubscriptions marks every active, non-lifetime subscription
// whose expiry has passed as expired. Returns the number of rows affected.
func ExpireOverdueSubscriptions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.PremiumSubscription{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", domain.SubActive, now).
		Updates(map[string]any{"status": domain.SubExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}
