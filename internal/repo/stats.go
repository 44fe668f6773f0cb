// Aggregate queries over payments, used for conditional responses in the
// HTTP layer. Cheap enough to run on every list request.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/domain"
)

// PaymentsStats returns aggregate metadata for a user's payments: the total
// number of rows and the maximum UpdatedAt timestamp among those rows.
//
// It executes two lightweight queries against the payments table scoped to
// the provided userID. When the user has no payments, the returned count is
// 0 and maxUpdatedAt is nil.
//
// Return values:
//   - count:        total payments for userID
//   - maxUpdatedAt: the greatest UpdatedAt, nil when there are no rows
//   - err:          database error, if any
func PaymentsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Payment{}).Where("user_id = ?", userID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// SQLite's MAX() on a DATETIME column yields TEXT, so order and take one instead.
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// PendingPaymentsStats returns the number of pending payments and the oldest
// pending creation time, for operational dashboards and the stale-payment
// sweep. When nothing is pending, count is 0 and oldest is nil.
func PendingPaymentsStats(ctx context.Context, db *gorm.DB) (count int64, oldest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Payment{}).Where("status = ?", domain.PaymentPending)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at ASC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
