package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coria/go-payments-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// one database per test so schema changes cannot leak
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedPayment(t *testing.T, db *gorm.DB, id, userID, status string, created, updated time.Time) {
	t.Helper()
	p := &domain.Payment{
		ID:             id,
		UserID:         userID,
		WalletID:       "w-" + id,
		Kind:           domain.KindDonation,
		AmountUnits:    5000,
		Status:         status,
		TargetAddress:  "pool",
		IdempotencyKey: "k-" + id,
		CreatedAt:      created,
		UpdatedAt:      updated,
		ExpiresAt:      created.Add(24 * time.Hour),
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed payment %s: %v", id, err)
	}
}

func TestPaymentsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := PaymentsStats(context.Background(), db, "u1")
	if err == nil {
		t.Fatalf("expected error due to missing payments table")
	}
}

func TestPaymentsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Payment{})
	count, maxAt, err := PaymentsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("PaymentsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestPaymentsStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Payment{})

	// Seed payments for two users; ensure UpdatedAt is exactly what we set.
	t1 := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)   // for other user

	seedPayment(t, db, "p1", "u1", domain.PaymentPending, t1, t1)
	seedPayment(t, db, "p2", "u1", domain.PaymentConfirmed, t2, t2)
	seedPayment(t, db, "p3", "u2", domain.PaymentPending, t3, t3)

	count, maxAt, err := PaymentsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("PaymentsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxUpdatedAt %v, got %v", t2, maxAt)
	}
}

// The follow-up updated_at select must surface its error, so break that
// column specifically.
func TestPaymentsStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.Payment{})

	// at least one row so the count is nonzero
	now := time.Now().UTC()
	seedPayment(t, db, "px", "uerr", domain.PaymentPending, now, now)

	// break only the second query
	if err := db.Exec(`ALTER TABLE payments RENAME COLUMN updated_at TO updated_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	_, _, err := PaymentsStats(context.Background(), db, "uerr")
	if err == nil {
		t.Fatalf("expected error from latest-updated select after column rename")
	}
}

func TestPendingPaymentsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := PendingPaymentsStats(context.Background(), db)
	if err == nil {
		t.Fatalf("expected error due to missing payments table")
	}
}

func TestPendingPaymentsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Payment{})
	count, oldest, err := PendingPaymentsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("PendingPaymentsStats error: %v", err)
	}
	if count != 0 || oldest != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, oldest)
	}
}

func TestPendingPaymentsStats_Success_FilterAndOldest(t *testing.T) {
	db := newTestDB(t, &domain.Payment{})

	t1 := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) // oldest pending
	t2 := time.Date(2026, 4, 1, 12, 5, 0, 0, time.UTC)
	t3 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) // confirmed, must be ignored

	seedPayment(t, db, "m1", "u1", domain.PaymentPending, t1, t1)
	seedPayment(t, db, "m2", "u2", domain.PaymentPending, t2, t2)
	seedPayment(t, db, "m3", "u1", domain.PaymentConfirmed, t3, t3)

	count, oldest, err := PendingPaymentsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("PendingPaymentsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if oldest == nil || !oldest.Equal(t1) {
		t.Fatalf("expected oldest %v, got %v", t1, oldest)
	}
}

// Force the second query (SELECT created_at ...) to fail by renaming the column.
func TestPendingPaymentsStats_SelectOldest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.Payment{})

	now := time.Now().UTC()
	seedPayment(t, db, "mx", "uerr", domain.PaymentPending, now, now)

	if err := db.Exec(`ALTER TABLE payments RENAME COLUMN created_at TO created_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	_, _, err := PendingPaymentsStats(context.Background(), db)
	if err == nil {
		t.Fatalf("expected error from oldest-pending select after column rename")
	}
}
