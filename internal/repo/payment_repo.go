// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Payment model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a payment is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Payments are append-only: there is no delete function, and terminal rows
// are never transitioned again. MarkPaymentStatus guards the pending-only
// transition at the SQL level so concurrent confirmers cannot double-write.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreatePayment inserts a new pending Payment row. The payment ID is a
// randomly generated UUID, CreatedAt is set to UTC, and ExpiresAt is
// createdAt + ttl. On a duplicate idempotency key it returns ErrDuplicate.
func CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment, ttl time.Duration) (*domain.Payment, error) {
	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.Status = domain.PaymentPending
	p.CreatedAt = now
	p.ExpiresAt = now.Add(ttl)
	clientKey := p.IdempotencyKey
	if p.IdempotencyKey == "" {
		// Keyless requests must not collide on the unique key column.
		p.IdempotencyKey = p.ID
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	if clientKey != "" {
		// Best effort: the replay-detection record feeds the HTTP-layer
		// idempotency middleware; the unique key on the payment row is the
		// real guard.
		_, _ = CreateIdempotency(ctx, db, p.UserID, clientKey, p.ID, 1, ttl)
	}
	return p, nil
}

// GetPayment fetches a single payment by its ID and owner (userID). If the
// record does not exist, it returns ErrNotFound. On other DB errors, the raw
// error is returned.
func GetPayment(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByID fetches a payment by primary key without an ownership
// filter. Used by background workers that operate across users.
func GetPaymentByID(ctx context.Context, db *gorm.DB, id string) (*domain.Payment, error) {
	var p domain.Payment
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByIdemKey fetches the payment created under the given
// idempotency key for userID, or ErrNotFound.
func GetPaymentByIdemKey(ctx context.Context, db *gorm.DB, userID, key string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPayments returns the total number of payments owned by userID.
// On DB error, it returns the error.
func CountPayments(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListPaymentsPage returns a paginated slice of payments for userID, ordered
// by creation time descending. Use CountPayments to obtain the total for
// pagination metadata. On DB error, it returns the error.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListPaymentsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Payment, error) {
	var out []domain.Payment
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetPaymentSignature records the ledger transaction signature on a payment
// that is still pending. Returns ErrNotFound if the row is missing or no
// longer pending.
func SetPaymentSignature(ctx context.Context, db *gorm.DB, id, signature string) error {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentPending).
		Updates(map[string]any{"tx_signature": signature, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkPaymentStatus transitions a pending payment to a terminal status,
// optionally recording a failure reason. The WHERE clause only matches
// pending rows, so a payment that already reached a terminal status is left
// untouched and ErrNotFound is returned.
func MarkPaymentStatus(ctx context.Context, db *gorm.DB, id, status, reason string) error {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExpireStalePayments marks every pending payment whose expiry has passed as
// failed with an "expired" reason. It returns the number of rows affected.
func ExpireStalePayments(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("status = ? AND expires_at <= ?", domain.PaymentPending, now).
		Updates(map[string]any{
			"status":         domain.PaymentFailed,
			"failure_reason": "expired",
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}
