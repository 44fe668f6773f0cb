package repo

import (
	"context"
	"testing"
	"time"

	"github.com/coria/go-payments-backend/internal/domain"
	"gorm.io/gorm"
)

func TestCreateWallet_AndDuplicateAddress(t *testing.T) {
	db := newTestDB(t, &domain.Wallet{})
	ctx := context.Background()

	w, err := CreateWallet(ctx, db, "u1", "addr-1", "main")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if w.ID == "" || !w.IsActive || w.Label != "main" {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	// Same address, even for another user, is rejected.
	if _, err := CreateWallet(ctx, db, "u2", "addr-1", "copy"); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetWallet_Ownership(t *testing.T) {
	db := newTestDB(t, &domain.Wallet{})
	ctx := context.Background()

	w, err := CreateWallet(ctx, db, "u1", "addr-2", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := GetWallet(ctx, db, w.ID, "u1")
	if err != nil || got.Address != "addr-2" {
		t.Fatalf("GetWallet: got=%+v err=%v", got, err)
	}
	if _, err := GetWallet(ctx, db, w.ID, "u2"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for wrong owner, got %v", err)
	}
}

func TestListWallets_FilterAndOrder(t *testing.T) {
	db := newTestDB(t, &domain.Wallet{})
	ctx := context.Background()

	a, _ := CreateWallet(ctx, db, "u1", "addr-a", "")
	b, _ := CreateWallet(ctx, db, "u1", "addr-b", "")
	if _, err := CreateWallet(ctx, db, "u2", "addr-c", ""); err != nil {
		t.Fatalf("seed other user: %v", err)
	}
	// Make CreatedAt distinct for ordering.
	db.Model(&domain.Wallet{}).Where("id = ?", a.ID).
		Update("created_at", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	db.Model(&domain.Wallet{}).Where("id = ?", b.ID).
		Update("created_at", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	out, err := ListWallets(ctx, db, "u1")
	if err != nil {
		t.Fatalf("ListWallets: %v", err)
	}
	if len(out) != 2 || out[0].ID != b.ID || out[1].ID != a.ID {
		t.Fatalf("unexpected list: %+v", out)
	}
}

func TestSetWalletActive(t *testing.T) {
	db := newTestDB(t, &domain.Wallet{})
	ctx := context.Background()

	w, err := CreateWallet(ctx, db, "u1", "addr-3", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := SetWalletActive(ctx, db, w.ID, "u1", false); err != nil {
		t.Fatalf("SetWalletActive: %v", err)
	}
	got, _ := GetWallet(ctx, db, w.ID, "u1")
	if got.IsActive {
		t.Fatalf("wallet still active: %+v", got)
	}

	// Ownership enforced and missing rows reported.
	if err := SetWalletActive(ctx, db, w.ID, "u2", true); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound for wrong owner, got %v", err)
	}
	if err := SetWalletActive(ctx, db, "missing", "u1", true); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound for missing id, got %v", err)
	}
}
