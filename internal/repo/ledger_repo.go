// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the LedgerEntry
// model. Entries are insert-only; there are no update or delete functions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/domain"
)

// CreateLedgerEntry inserts the immutable ledger record for a confirmed
// payment. The unique index on payment_id makes the insert a natural
// once-only guard: a second insert for the same payment returns ErrDuplicate.
func CreateLedgerEntry(ctx context.Context, db *gorm.DB, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return e, nil
}

// GetLedgerEntryByPayment returns the entry linked to paymentID, or ErrNotFound.
func GetLedgerEntryByPayment(ctx context.Context, db *gorm.DB, paymentID string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListLedgerEntries returns all entries for userID, most recent first.
func ListLedgerEntries(ctx context.Context, db *gorm.DB, userID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
