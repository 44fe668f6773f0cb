// Package services – PaymentService
//
// This file implements PaymentService, the payment lifecycle manager. It
// creates pending payments with idempotency-key replay protection, attaches
// ledger signatures, and drives confirmation: ledger status check, exact
// verification of the on-ledger transfer against the payment record, and the
// atomic confirm step that writes the ledger entry and activates premium
// entitlements in one store transaction.
//
// Payments are append-only and move through pending to exactly one terminal
// status (confirmed, failed, mismatch). The pending-only UPDATE guard in the
// repository makes concurrent confirmation attempts safe: one wins, the rest
// observe a terminal row.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/chain"
	"github.com/coria/go-payments-backend/internal/domain"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PaymentRepo defines the repository contract required by PaymentService.
type PaymentRepo interface {
	// CreatePayment inserts a new pending payment with the given TTL.
	CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment, ttl time.Duration) (*domain.Payment, error)

	// GetPayment fetches a payment by ID ensuring it belongs to the user.
	GetPayment(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Payment, error)

	// GetPaymentByIdemKey fetches the payment created under an idempotency key.
	GetPaymentByIdemKey(ctx context.Context, db *gorm.DB, userID, key string) (*domain.Payment, error)

	// CountPayments returns the total number of payments for pagination.
	CountPayments(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListPaymentsPage returns a page of payments belonging to the user.
	ListPaymentsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Payment, error)

	// SetPaymentSignature records the tx signature on a pending payment.
	SetPaymentSignature(ctx context.Context, db *gorm.DB, id, signature string) error

	// MarkPaymentStatus transitions a pending payment to a terminal status.
	MarkPaymentStatus(ctx context.Context, db *gorm.DB, id, status, reason string) error

	// CreateLedgerEntry inserts the immutable entry for a confirmed payment.
	CreateLedgerEntry(ctx context.Context, db *gorm.DB, e *domain.LedgerEntry) (*domain.LedgerEntry, error)

	// GetWallet fetches a wallet by ID ensuring it belongs to the user.
	GetWallet(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Wallet, error)

	// CreateWallet registers a sending wallet for the user.
	CreateWallet(ctx context.Context, db *gorm.DB, userID, address, label string) (*domain.Wallet, error)

	// ListWallets returns the user's wallets.
	ListWallets(ctx context.Context, db *gorm.DB, userID string) ([]domain.Wallet, error)

	// GetPlanByType resolves a premium plan by its type.
	GetPlanByType(ctx context.Context, db *gorm.DB, planType string) (*domain.PremiumPlan, error)
}

// Verifier checks submitted transactions against the ledger. Implemented by
// TransferService.
type Verifier interface {
	CheckStatus(ctx context.Context, signature string) (chain.SigStatus, error)
	VerifyTransfer(ctx context.Context, signature, expectedDestination string, expectedAmount int64) error
}

// Activator applies premium entitlement inside the confirm transaction.
// Implemented by PremiumService.
type Activator interface {
	ActivateForPayment(ctx context.Context, tx *gorm.DB, p *domain.Payment) (*domain.PremiumSubscription, error)
}

// CreatePaymentInput is the request to open a pending payment.
type CreatePaymentInput struct {
	UserID         string
	WalletID       string
	Kind           string
	AmountUnits    int64
	IdempotencyKey string
	Metadata       string // JSON; for premium payments must carry plan_type
}

// PaymentService provides payment lifecycle operations.
type PaymentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the payment repository used by this service.
	Repo PaymentRepo
	// Verify checks ledger state during confirmation.
	Verify Verifier
	// Premium activates entitlements for confirmed premium payments.
	Premium Activator

	// MinAmountUnits rejects dust payments below this floor.
	MinAmountUnits int64
	// PendingTTL is how long a payment may stay pending before it is
	// considered stale (24h by default).
	PendingTTL time.Duration
	// DonationPool and PremiumPool are the target addresses per kind.
	DonationPool string
	PremiumPool  string
}

// NewPaymentService constructs a PaymentService with production defaults.
func NewPaymentService(db *gorm.DB, r PaymentRepo, v Verifier, a Activator, donationPool, premiumPool string) *PaymentService {
	return &PaymentService{
		DB:             db,
		Repo:           r,
		Verify:         v,
		Premium:        a,
		MinAmountUnits: 1000,
		PendingTTL:     24 * time.Hour,
		DonationPool:   donationPool,
		PremiumPool:    premiumPool,
	}
}

// CreatePending opens a pending payment. A repeated idempotency key returns
// the original payment unchanged when the parameters match, and
// ErrIdempotencyConflict when they differ.
func (s *PaymentService) CreatePending(ctx context.Context, in CreatePaymentInput) (*domain.Payment, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "CreatePending",
		trace.WithAttributes(
			attribute.String("user.id", in.UserID),
			attribute.String("kind", in.Kind),
			attribute.Int64("amount_units", in.AmountUnits),
		),
	)
	defer span.End()

	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.IdempotencyKey != "" {
		if prev, err := s.Repo.GetPaymentByIdemKey(ctx, s.DB, in.UserID, in.IdempotencyKey); err == nil {
			return s.replay(prev, in)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	target, err := s.validateCreate(ctx, &in)
	if err != nil {
		return nil, err
	}

	p := &domain.Payment{
		UserID:         in.UserID,
		WalletID:       in.WalletID,
		Kind:           in.Kind,
		AmountUnits:    in.AmountUnits,
		TargetAddress:  target,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       in.Metadata,
	}
	created, err := s.Repo.CreatePayment(ctx, s.DB, p, s.PendingTTL)
	if err == nil {
		return created, nil
	}
	if isDuplicate(err) {
		// Lost a race on the idempotency key; surface the winner.
		if prev, gerr := s.Repo.GetPaymentByIdemKey(ctx, s.DB, in.UserID, in.IdempotencyKey); gerr == nil {
			return s.replay(prev, in)
		}
		return nil, ErrIdempotencyConflict
	}
	return nil, err
}

// replay returns prev when it matches the replayed request, or flags the key
// as conflicting.
func (s *PaymentService) replay(prev *domain.Payment, in CreatePaymentInput) (*domain.Payment, error) {
	if prev.Kind != in.Kind || prev.AmountUnits != in.AmountUnits || prev.WalletID != in.WalletID {
		return nil, ErrIdempotencyConflict
	}
	return prev, nil
}

// validateCreate applies the creation rules and resolves the target pool.
func (s *PaymentService) validateCreate(ctx context.Context, in *CreatePaymentInput) (string, error) {
	if in.Kind != domain.KindDonation && in.Kind != domain.KindPremium {
		return "", ErrInvalidKind
	}
	if in.AmountUnits <= 0 || in.AmountUnits < s.MinAmountUnits {
		return "", ErrInvalidAmount
	}

	w, err := s.Repo.GetWallet(ctx, s.DB, in.WalletID, in.UserID)
	if err != nil || !w.IsActive {
		return "", ErrWalletNotFound
	}

	if in.Kind == domain.KindPremium {
		planType := PlanTypeFromMetadata(in.Metadata)
		if planType == "" {
			return "", ErrPlanNotFound
		}
		plan, perr := s.Repo.GetPlanByType(ctx, s.DB, planType)
		if perr != nil {
			if errors.Is(perr, gorm.ErrRecordNotFound) {
				return "", ErrPlanNotFound
			}
			return "", perr
		}
		// Overpayment is accepted; only paying less than the plan price fails.
		if in.AmountUnits < plan.PriceUnits {
			return "", ErrWrongPlanAmount
		}
		return s.PremiumPool, nil
	}
	return s.DonationPool, nil
}

// AttachSignature records the ledger signature on a still-pending payment.
func (s *PaymentService) AttachSignature(ctx context.Context, userID, paymentID, signature string) (*domain.Payment, error) {
	p, err := s.Repo.GetPayment(ctx, s.DB, paymentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.Terminal() {
		return p, ErrAlreadyProcessed
	}
	if signature = strings.TrimSpace(signature); signature == "" {
		return p, ErrNoSignature
	}
	if err := s.Repo.SetPaymentSignature(ctx, s.DB, p.ID, signature); err != nil {
		return nil, err
	}
	p.TxSignature = signature
	return p, nil
}

// Confirm drives a pending payment to its terminal status. txSignature may
// be empty when the signature was attached earlier.
//
// Outcomes:
//   - already terminal: the payment plus ErrAlreadyProcessed
//   - no signature anywhere: payment marked failed, ErrNoSignature
//   - ledger reports failure: payment marked failed with the ledger detail
//   - not yet finalized: payment unchanged, ErrStillPending
//   - finalized but mismatched: payment marked mismatch, *MismatchError
//   - finalized and verified: payment confirmed, ledger entry written, and
//     premium entitlement activated, all in one store transaction
func (s *PaymentService) Confirm(ctx context.Context, userID, paymentID, txSignature string) (*domain.Payment, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Confirm",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("payment.id", paymentID),
		),
	)
	defer span.End()

	p, err := s.Repo.GetPayment(ctx, s.DB, paymentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.Terminal() {
		return p, ErrAlreadyProcessed
	}

	if sig := strings.TrimSpace(txSignature); sig != "" && p.TxSignature == "" {
		if err := s.Repo.SetPaymentSignature(ctx, s.DB, p.ID, sig); err != nil {
			return nil, err
		}
		p.TxSignature = sig
	}
	if p.TxSignature == "" {
		return s.fail(ctx, p, "missing transaction signature", ErrNoSignature)
	}

	st, err := s.Verify.CheckStatus(ctx, p.TxSignature)
	if err != nil {
		// Infrastructure failure: the payment stays pending.
		return nil, err
	}
	if st.Err != "" {
		return s.fail(ctx, p, "transaction failed on ledger: "+st.Err, nil)
	}
	if !st.Finalized {
		return p, ErrStillPending
	}

	if err := s.Verify.VerifyTransfer(ctx, p.TxSignature, p.TargetAddress, p.AmountUnits); err != nil {
		var me *MismatchError
		if errors.As(err, &me) {
			if merr := s.Repo.MarkPaymentStatus(ctx, s.DB, p.ID, domain.PaymentMismatch, me.Reason); merr != nil && !errors.Is(merr, gorm.ErrRecordNotFound) {
				return nil, merr
			}
			p.Status = domain.PaymentMismatch
			p.FailureReason = me.Reason
			paymentOutcomes.WithLabelValues(domain.PaymentMismatch).Inc()
			return p, me
		}
		return nil, err
	}

	// Atomic confirm: status flip, ledger entry, premium activation.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if merr := s.Repo.MarkPaymentStatus(ctx, tx, p.ID, domain.PaymentConfirmed, ""); merr != nil {
			return merr
		}
		reason := domain.ReasonDonationSent
		if p.Kind == domain.KindPremium {
			reason = domain.ReasonPremiumPayment
		}
		if _, lerr := s.Repo.CreateLedgerEntry(ctx, tx, &domain.LedgerEntry{
			UserID:      p.UserID,
			WalletID:    p.WalletID,
			PaymentID:   p.ID,
			DeltaUnits:  -p.AmountUnits,
			Reason:      reason,
			TxSignature: p.TxSignature,
			Metadata:    p.Metadata,
		}); lerr != nil {
			return lerr
		}
		if p.Kind == domain.KindPremium && s.Premium != nil {
			if _, aerr := s.Premium.ActivateForPayment(ctx, tx, p); aerr != nil {
				return aerr
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Lost the pending-only race; report what the winner wrote.
			if cur, gerr := s.Repo.GetPayment(ctx, s.DB, paymentID, userID); gerr == nil {
				return cur, ErrAlreadyProcessed
			}
		}
		return nil, err
	}

	p.Status = domain.PaymentConfirmed
	paymentOutcomes.WithLabelValues(domain.PaymentConfirmed).Inc()
	return p, nil
}

// fail transitions p to failed with reason and returns cause (or nil).
func (s *PaymentService) fail(ctx context.Context, p *domain.Payment, reason string, cause error) (*domain.Payment, error) {
	if err := s.Repo.MarkPaymentStatus(ctx, s.DB, p.ID, domain.PaymentFailed, reason); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	p.Status = domain.PaymentFailed
	p.FailureReason = reason
	paymentOutcomes.WithLabelValues(domain.PaymentFailed).Inc()
	return p, cause
}

// Get returns a payment by ID with ownership enforced.
func (s *PaymentService) Get(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	p, err := s.Repo.GetPayment(ctx, s.DB, paymentID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// ListPage returns a page of payments for a user (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *PaymentService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Payment, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountPayments(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Payment{}, 0, nil
	}

	items, err := s.Repo.ListPaymentsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// CreateWallet registers a new sending wallet for the user after validating
// the ledger address.
func (s *PaymentService) CreateWallet(ctx context.Context, userID, address, label string) (*domain.Wallet, error) {
	address = strings.TrimSpace(address)
	if !chain.ValidAddress(address) {
		return nil, ErrInvalidAddress
	}
	w, err := s.Repo.CreateWallet(ctx, s.DB, userID, address, label)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateWallet
		}
		return nil, err
	}
	return w, nil
}

// ListWallets returns the user's registered wallets.
func (s *PaymentService) ListWallets(ctx context.Context, userID string) ([]domain.Wallet, error) {
	return s.Repo.ListWallets(ctx, s.DB, userID)
}

// PlanTypeFromMetadata extracts the plan_type field from a payment metadata
// blob, or "" when absent or unparsable.
func PlanTypeFromMetadata(metadata string) string {
	if strings.TrimSpace(metadata) == "" {
		return ""
	}
	var m struct {
		PlanType string `json:"plan_type"`
	}
	if err := json.Unmarshal([]byte(metadata), &m); err != nil {
		return ""
	}
	return m.PlanType
}

// isDuplicate reports whether err is a unique-constraint violation, covering
// both the repo sentinel and raw driver errors.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "duplicate") ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
