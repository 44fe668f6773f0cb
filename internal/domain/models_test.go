package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	if (Payment{}).TableName() != "payments" {
		t.Fatalf("Payment.TableName() = %q; want %q", (Payment{}).TableName(), "payments")
	}
	if (Wallet{}).TableName() != "wallets" {
		t.Fatalf("Wallet.TableName() = %q; want %q", (Wallet{}).TableName(), "wallets")
	}
	if (LedgerEntry{}).TableName() != "ledger_entries" {
		t.Fatalf("LedgerEntry.TableName() = %q; want %q", (LedgerEntry{}).TableName(), "ledger_entries")
	}
	if (PremiumPlan{}).TableName() != "premium_plans" {
		t.Fatalf("PremiumPlan.TableName() = %q", (PremiumPlan{}).TableName())
	}
	if (PremiumSubscription{}).TableName() != "premium_subscriptions" {
		t.Fatalf("PremiumSubscription.TableName() = %q", (PremiumSubscription{}).TableName())
	}
	if (RateLimitViolation{}).TableName() != "rate_limit_violations" {
		t.Fatalf("RateLimitViolation.TableName() = %q", (RateLimitViolation{}).TableName())
	}
}

func TestPayment_Terminal(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{PaymentPending, false},
		{PaymentConfirmed, true},
		{PaymentFailed, true},
		{PaymentMismatch, true},
	}
	for _, tc := range cases {
		p := &Payment{Status: tc.status}
		if got := p.Terminal(); got != tc.want {
			t.Fatalf("Terminal() with status %q = %v; want %v", tc.status, got, tc.want)
		}
	}
}

func TestPremiumSubscription_ExpiredAt(t *testing.T) {
	now := time.Now().UTC()

	// Lifetime (nil expiry) never expires.
	life := &PremiumSubscription{Status: SubActive}
	if life.ExpiredAt(now.Add(100 * 365 * 24 * time.Hour)) {
		t.Fatalf("lifetime subscription must not expire")
	}

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := &PremiumSubscription{Status: SubActive, ExpiresAt: &past}
	if !expired.ExpiredAt(now) {
		t.Fatalf("expected ExpiredAt=true for past expiry")
	}
	active := &PremiumSubscription{Status: SubActive, ExpiresAt: &future}
	if active.ExpiredAt(now) {
		t.Fatalf("expected ExpiredAt=false for future expiry")
	}
	// Exactly at the boundary is not yet expired.
	atBoundary := &PremiumSubscription{Status: SubActive, ExpiresAt: &now}
	if atBoundary.ExpiredAt(now) {
		t.Fatalf("expected ExpiredAt=false exactly at expiry instant")
	}
}

func TestMigrations_Indexes_AndConstraints(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(
		&Payment{}, &Wallet{}, &LedgerEntry{},
		&PremiumPlan{}, &PremiumSubscription{}, &RateLimitViolation{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	// Tables exist
	for _, tbl := range []any{&Payment{}, &Wallet{}, &LedgerEntry{}, &PremiumPlan{}, &PremiumSubscription{}, &RateLimitViolation{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	// the tag-declared indexes must materialize
	if !m.HasIndex(&Payment{}, "ux_payment_idem_key") {
		t.Fatalf("expected unique index ux_payment_idem_key on payments")
	}
	if !m.HasIndex(&LedgerEntry{}, "ux_ledger_payment") {
		t.Fatalf("expected unique index ux_ledger_payment on ledger_entries")
	}
	if !m.HasIndex(&PremiumSubscription{}, "idx_sub_user_status") {
		t.Fatalf("expected index idx_sub_user_status on premium_subscriptions")
	}

	now := time.Now().UTC()

	// Unique idempotency key rejects a second payment with the same key.
	p1 := &Payment{ID: "p1", UserID: "u1", WalletID: "w1", Kind: KindDonation,
		AmountUnits: 5000, Status: PaymentPending, TargetAddress: "pool",
		IdempotencyKey: "k1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(p1).Error; err != nil {
		t.Fatalf("insert p1: %v", err)
	}
	dup := &Payment{ID: "p2", UserID: "u1", WalletID: "w1", Kind: KindDonation,
		AmountUnits: 5000, Status: PaymentPending, TargetAddress: "pool",
		IdempotencyKey: "k1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on idempotency key")
	}

	// Status CHECK constraint rejects unknown values.
	bad := &Payment{ID: "p3", UserID: "u1", WalletID: "w1", Kind: KindDonation,
		AmountUnits: 5000, Status: "weird", TargetAddress: "pool",
		IdempotencyKey: "k3", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected CHECK violation for unknown payment status")
	}

	// One ledger entry per payment.
	e1 := &LedgerEntry{ID: "e1", UserID: "u1", WalletID: "w1", PaymentID: "p1",
		DeltaUnits: -5000, Reason: ReasonDonationSent, TxSignature: "sig", CreatedAt: now}
	if err := db.Create(e1).Error; err != nil {
		t.Fatalf("insert e1: %v", err)
	}
	e2 := &LedgerEntry{ID: "e2", UserID: "u1", WalletID: "w1", PaymentID: "p1",
		DeltaUnits: -5000, Reason: ReasonDonationSent, TxSignature: "sig", CreatedAt: now}
	if err := db.Create(e2).Error; err == nil {
		t.Fatalf("expected unique violation on ledger payment_id")
	}
}
