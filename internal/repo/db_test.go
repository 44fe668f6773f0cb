package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coria/go-payments-backend/internal/domain"
)

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("open %q: db=%v err=%v", bad, db, err)
	}
	// error text varies by platform and driver
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenSQLite_PragmasPoolAndMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journalMode string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}
	// synchronous NORMAL is 1
	for pragma, want := range map[string]int{
		"synchronous":  1,
		"foreign_keys": 1,
		"busy_timeout": 5000,
	} {
		var got int
		if err := db.Raw("PRAGMA " + pragma + ";").Row().Scan(&got); err != nil {
			t.Fatalf("%s: %v", pragma, err)
		}
		if got != want {
			t.Fatalf("%s = %d, want %d", pragma, got, want)
		}
	}

	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("MaxOpenConnections = %d, want 10", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{
		&domain.Payment{}, &domain.Wallet{}, &domain.LedgerEntry{},
		&domain.PremiumPlan{}, &domain.PremiumSubscription{},
		&domain.Idempotency{}, &domain.RateLimitViolation{},
	} {
		if !m.HasTable(tbl) {
			t.Fatalf("table for %T missing after migration", tbl)
		}
	}

	// insert a wallet, payment, and idempotency record to prove the schema
	// is usable end to end
	now := time.Now().UTC()
	w := &domain.Wallet{ID: "w1", UserID: "u1", Address: "addr-1", IsActive: true, CreatedAt: now}
	if err := db.Create(w).Error; err != nil {
		t.Fatalf("insert wallet: %v", err)
	}
	p := &domain.Payment{ID: "p1", UserID: "u1", WalletID: "w1", Kind: domain.KindDonation,
		AmountUnits: 5000, Status: domain.PaymentPending, TargetAddress: "pool",
		IdempotencyKey: "k1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	idem := &domain.Idempotency{ID: "i1", Key: "k1", UserID: "u1", PaymentID: "p1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(idem).Error; err != nil {
		t.Fatalf("insert idempotency: %v", err)
	}

	var got domain.Payment
	if err := db.First(&got, "id = ?", "p1").Error; err != nil || got.UserID != "u1" {
		t.Fatalf("payment readback: err=%v got=%+v", err, got)
	}
}
