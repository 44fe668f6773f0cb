// Package domain defines the persistence models for payments, ledger
// entries, wallets, and premium entitlements. These types are mapped with
// GORM and form the core data layer of the payments backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Payment kinds accepted by the lifecycle manager.
const (
	KindDonation = "donation"
	KindPremium  = "premium"
)

// Payment statuses. A payment starts pending and moves to exactly one of
// the terminal statuses; it never returns to pending.
const (
	PaymentPending   = "pending"
	PaymentConfirmed = "confirmed"
	PaymentFailed    = "failed"
	PaymentMismatch  = "mismatch"
)

// Payment represents one attempted transfer on the ledger network. Rows are
// append-only: a payment is never deleted, and once it reaches a terminal
// status it is never mutated again (audit trail).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the paying user; indexed for retrieval.
//   - WalletID: the sending wallet, owned by UserID.
//   - Kind: "donation" or "premium" (enforced by DB constraint).
//   - AmountUnits: transfer amount in minor units (smallest ledger denomination).
//   - Status: pending | confirmed | failed | mismatch.
//   - TargetAddress: the pool address the transfer must land on.
//   - TxSignature: ledger transaction signature, empty until submission.
//   - IdempotencyKey: client-supplied key, unique across all payments.
//   - FailureReason: populated when Status is failed or mismatch.
//   - Metadata: free-form JSON blob supplied by the client.
//   - ExpiresAt: stale-pending cutoff (24h after creation).
type Payment struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID         string    `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_user_payments"`
	WalletID       string    `json:"wallet_id"       gorm:"type:char(36);not null"`
	Kind           string    `json:"kind"            gorm:"type:varchar(16);not null;check:kind IN ('donation','premium')"`
	AmountUnits    int64     `json:"amount_units"    gorm:"not null"`
	Status         string    `json:"status"          gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','confirmed','failed','mismatch')"`
	TargetAddress  string    `json:"target_address"  gorm:"type:varchar(64);not null"`
	TxSignature    string    `json:"tx_signature,omitempty" gorm:"type:varchar(128)"`
	IdempotencyKey string    `json:"idempotency_key" gorm:"type:varchar(200);not null;uniqueIndex:ux_payment_idem_key"`
	FailureReason  string    `json:"failure_reason,omitempty" gorm:"type:text"`
	Metadata       string    `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at"      gorm:"index"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// Terminal reports whether the payment has reached a final status.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentConfirmed || p.Status == PaymentFailed || p.Status == PaymentMismatch
}

// Wallet is a user-registered sending wallet. Ownership and the active flag
// are checked before any payment is created against it.
type Wallet struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index"`
	Address   string         `json:"address"    gorm:"type:varchar(64);not null;uniqueIndex"`
	Label     string         `json:"label"      gorm:"type:varchar(120)"`
	IsActive  bool           `json:"is_active"  gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Wallet.
func (Wallet) TableName() string { return "wallets" }

// Ledger entry reasons.
const (
	ReasonDonationSent   = "donation_sent"
	ReasonPremiumPayment = "premium_payment"
)

// LedgerEntry is the immutable record of a completed monetary movement,
// linked 1:1 to a confirmed payment (unique index on PaymentID). Entries
// are written inside the same store transaction that confirms the payment
// and are never updated or deleted afterwards.
type LedgerEntry struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;index"`
	WalletID    string    `json:"wallet_id"    gorm:"type:char(36);not null"`
	PaymentID   string    `json:"payment_id"   gorm:"type:char(36);not null;uniqueIndex:ux_ledger_payment"`
	DeltaUnits  int64     `json:"delta_units"  gorm:"not null"`
	Reason      string    `json:"reason"       gorm:"type:varchar(32);not null"`
	TxSignature string    `json:"tx_signature" gorm:"type:varchar(128);not null"`
	Metadata    string    `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for LedgerEntry.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// Premium plan types.
const (
	PlanMonthly  = "monthly"
	PlanYearly   = "yearly"
	PlanLifetime = "lifetime"
)

// PremiumPlan is a purchasable entitlement tier. DurationDays of zero means
// a lifetime plan (subscriptions carry no expiry).
type PremiumPlan struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	PlanType     string    `json:"plan_type"     gorm:"type:varchar(16);not null;uniqueIndex;check:plan_type IN ('monthly','yearly','lifetime')"`
	Name         string    `json:"name"          gorm:"type:varchar(64);not null"`
	PriceUnits   int64     `json:"price_units"   gorm:"not null"`
	DurationDays int       `json:"duration_days" gorm:"not null;default:0"`
	Features     string    `json:"features"      gorm:"type:text"` // comma-separated feature keys
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for PremiumPlan.
func (PremiumPlan) TableName() string { return "premium_plans" }

// Premium subscription statuses.
const (
	SubActive    = "active"
	SubExpired   = "expired"
	SubCancelled = "cancelled"
	SubSuspended = "suspended"
)

// PremiumSubscription is the per-user entitlement record. At most one row
// per user may be active at a time; activation extends the existing active
// row instead of inserting a second one. ExpiresAt is nil for lifetime plans.
type PremiumSubscription struct {
	ID        string     `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string     `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_sub_user_status"`
	PlanID    string     `json:"plan_id"    gorm:"type:char(36);not null"`
	PaymentID string     `json:"payment_id" gorm:"type:char(36);not null"`
	Status    string     `json:"status"     gorm:"type:varchar(16);not null;index:idx_sub_user_status;check:status IN ('active','expired','cancelled','suspended')"`
	Features  string     `json:"features"   gorm:"type:text"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PremiumSubscription.
func (PremiumSubscription) TableName() string { return "premium_subscriptions" }

// ExpiredAt reports whether the subscription's expiry has passed at the
// given time. Lifetime subscriptions (nil expiry) never expire.
func (s *PremiumSubscription) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// RateLimitViolation is the best-effort persisted record of a rate-limit
// block. Only violations are persisted, not full bucket state; on restart
// the limiter rebuilds still-active blocks from recent rows.
type RateLimitViolation struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	Identity      string    `json:"identity"       gorm:"type:varchar(128);not null;index"`
	Operation     string    `json:"operation"      gorm:"type:varchar(64);not null"`
	Tier          string    `json:"tier"           gorm:"type:varchar(32);not null"`
	Capacity      int64     `json:"capacity"       gorm:"not null"`
	BlockDuration int64     `json:"block_duration" gorm:"not null"` // seconds
	ViolatedAt    time.Time `json:"violated_at"    gorm:"index"`
}

// TableName returns the database table name for RateLimitViolation.
func (RateLimitViolation) TableName() string { return "rate_limit_violations" }
