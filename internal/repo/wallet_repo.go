// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Wallet model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/domain"
)

// CreateWallet registers a wallet address for userID. The address must be
// globally unique; a second registration returns ErrDuplicate.
func CreateWallet(ctx context.Context, db *gorm.DB, userID, address, label string) (*domain.Wallet, error) {
	w := &domain.Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Address:   address,
		Label:     label,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(w).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return w, nil
}

// GetWallet fetches a wallet by ID and owner, or ErrNotFound.
func GetWallet(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWallets returns all wallets belonging to userID, most recent first.
func ListWallets(ctx context.Context, db *gorm.DB, userID string) ([]domain.Wallet, error) {
	var out []domain.Wallet
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// SetWalletActive toggles the active flag on a wallet, enforcing ownership.
// Returns ErrNotFound if no row matches.
func SetWalletActive(ctx context.Context, db *gorm.DB, id, userID string, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Wallet{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
