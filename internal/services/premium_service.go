// Package services – PremiumService
//
// This file implements PremiumService, which owns the premium entitlement
// lifecycle: the plan catalog, activation and extension of subscriptions
// from confirmed payments, lazy expiry on access checks, and the periodic
// expiry sweep.
//
// Invariant: a user has at most one active subscription. Activation extends
// the existing active row instead of inserting a second one, measuring the
// extension from whichever is later, the current expiry or now, so unused
// time is never lost.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/domain"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PremiumRepo defines the repository contract required by PremiumService.
type PremiumRepo interface {
	GetPlanByType(ctx context.Context, db *gorm.DB, planType string) (*domain.PremiumPlan, error)
	ListPlans(ctx context.Context, db *gorm.DB) ([]domain.PremiumPlan, error)
	GetActiveSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.PremiumSubscription, error)
	CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.PremiumSubscription) (*domain.PremiumSubscription, error)
	ExtendSubscription(ctx context.Context, db *gorm.DB, id string, expiresAt *time.Time, planID, paymentID string) error
	SetSubscriptionStatus(ctx context.Context, db *gorm.DB, id, status string) error
	ExpireOverdueSubscriptions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

// SubscriptionStatus is the access-check view of a user's entitlement.
type SubscriptionStatus struct {
	Active       bool                        `json:"active"`
	Subscription *domain.PremiumSubscription `json:"subscription,omitempty"`
}

// PremiumService manages premium plans and subscriptions.
type PremiumService struct {
	DB    *gorm.DB
	Repo  PremiumRepo
	Clock clock.Clock
	Log   zerolog.Logger
}

// NewPremiumService constructs a PremiumService.
func NewPremiumService(db *gorm.DB, r PremiumRepo, clk clock.Clock, log zerolog.Logger) *PremiumService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &PremiumService{DB: db, Repo: r, Clock: clk, Log: log}
}

// Plans returns the plan catalog.
func (s *PremiumService) Plans(ctx context.Context) ([]domain.PremiumPlan, error) {
	return s.Repo.ListPlans(ctx, s.DB)
}

// ActivateForPayment applies the entitlement purchased by payment p, using
// the supplied handle so it participates in the caller's transaction.
//
// Re-activation with the payment that already funded the active
// subscription is a no-op, which makes confirm retries idempotent.
func (s *PremiumService) ActivateForPayment(ctx context.Context, tx *gorm.DB, p *domain.Payment) (*domain.PremiumSubscription, error) {
	if p.Kind != domain.KindPremium {
		return nil, ErrNotPremiumPayment
	}
	planType := PlanTypeFromMetadata(p.Metadata)
	if planType == "" {
		return nil, ErrPlanNotFound
	}
	plan, err := s.Repo.GetPlanByType(ctx, tx, planType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	// Paying above the plan price still activates the plan.
	if p.AmountUnits < plan.PriceUnits {
		return nil, ErrWrongPlanAmount
	}

	now := s.Clock.Now().UTC()
	existing, err := s.Repo.GetActiveSubscription(ctx, tx, p.UserID)
	switch {
	case err == nil:
		if existing.PaymentID == p.ID {
			return existing, nil
		}
		if existing.ExpiredAt(now) {
			// Lazily expire the stale row, then start fresh below.
			if serr := s.Repo.SetSubscriptionStatus(ctx, tx, existing.ID, domain.SubExpired); serr != nil {
				return nil, serr
			}
		} else {
			return s.extend(ctx, tx, existing, plan, p, now)
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	sub := &domain.PremiumSubscription{
		UserID:    p.UserID,
		PlanID:    plan.ID,
		PaymentID: p.ID,
		Status:    domain.SubActive,
		Features:  plan.Features,
		StartedAt: now,
		ExpiresAt: expiryFor(plan, now),
	}
	created, err := s.Repo.CreateSubscription(ctx, tx, sub)
	if err != nil {
		return nil, err
	}
	s.Log.Info().
		Str("user_id", p.UserID).
		Str("plan", plan.PlanType).
		Msg("premium subscription activated")
	return created, nil
}

// extend pushes the expiry of an active subscription forward by the plan
// duration, anchored at max(current expiry, now). A lifetime purchase clears
// the expiry entirely; an existing lifetime subscription has nothing to
// extend and is returned unchanged.
func (s *PremiumService) extend(ctx context.Context, tx *gorm.DB, existing *domain.PremiumSubscription, plan *domain.PremiumPlan, p *domain.Payment, now time.Time) (*domain.PremiumSubscription, error) {
	if existing.ExpiresAt == nil {
		return existing, nil
	}

	var next *time.Time
	if plan.DurationDays > 0 {
		base := now
		if existing.ExpiresAt.After(now) {
			base = *existing.ExpiresAt
		}
		t := base.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
		next = &t
	}
	if err := s.Repo.ExtendSubscription(ctx, tx, existing.ID, next, plan.ID, p.ID); err != nil {
		return nil, err
	}
	existing.ExpiresAt = next
	existing.PlanID = plan.ID
	existing.PaymentID = p.ID
	s.Log.Info().
		Str("user_id", p.UserID).
		Str("plan", plan.PlanType).
		Msg("premium subscription extended")
	return existing, nil
}

func expiryFor(plan *domain.PremiumPlan, now time.Time) *time.Time {
	if plan.DurationDays <= 0 {
		return nil
	}
	t := now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	return &t
}

// Activate is the standalone recovery path: it re-applies the entitlement
// for an already-confirmed premium payment, e.g. when activation was missed
// during confirmation. It requires the payment to be confirmed and owned by
// userID.
func (s *PremiumService) Activate(ctx context.Context, userID, paymentID string) (*domain.PremiumSubscription, error) {
	tr := otel.Tracer("services/PremiumService")
	ctx, span := tr.Start(ctx, "Activate",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("payment.id", paymentID),
		),
	)
	defer span.End()

	var p domain.Payment
	err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", paymentID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.Status != domain.PaymentConfirmed {
		return nil, ErrPaymentNotConfirmed
	}

	var sub *domain.PremiumSubscription
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var aerr error
		sub, aerr = s.ActivateForPayment(ctx, tx, &p)
		return aerr
	})
	return sub, err
}

// Status returns the entitlement state for userID, lazily expiring a
// past-due subscription on access.
func (s *PremiumService) Status(ctx context.Context, userID string) (SubscriptionStatus, error) {
	tr := otel.Tracer("services/PremiumService")
	ctx, span := tr.Start(ctx, "Status",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	sub, err := s.Repo.GetActiveSubscription(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SubscriptionStatus{Active: false}, nil
		}
		return SubscriptionStatus{}, err
	}
	if sub.ExpiredAt(s.Clock.Now().UTC()) {
		if serr := s.Repo.SetSubscriptionStatus(ctx, s.DB, sub.ID, domain.SubExpired); serr != nil {
			return SubscriptionStatus{}, serr
		}
		return SubscriptionStatus{Active: false}, nil
	}
	return SubscriptionStatus{Active: true, Subscription: sub}, nil
}

// HasFeature reports whether userID currently holds the named feature.
func (s *PremiumService) HasFeature(ctx context.Context, userID, feature string) (bool, error) {
	st, err := s.Status(ctx, userID)
	if err != nil || !st.Active {
		return false, err
	}
	for _, f := range strings.Split(st.Subscription.Features, ",") {
		if strings.TrimSpace(f) == feature {
			return true, nil
		}
	}
	return false, nil
}

// Tier returns the rate-limit tier for userID: "premium" when an active
// subscription exists, "free" otherwise. Errors degrade to "free".
func (s *PremiumService) Tier(ctx context.Context, userID string) string {
	st, err := s.Status(ctx, userID)
	if err == nil && st.Active {
		return "premium"
	}
	return "free"
}

// ExpireOverdue sweeps all past-due subscriptions to expired.
func (s *PremiumService) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.Repo.ExpireOverdueSubscriptions(ctx, s.DB, s.Clock.Now().UTC())
	if err == nil && n > 0 {
		s.Log.Info().Int64("expired", n).Msg("expired overdue subscriptions")
	}
	return n, err
}

// RunExpirySweeper periodically expires overdue subscriptions and stale
// pending payments until ctx is cancelled.
func (s *PremiumService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Clock.After(interval):
			if _, err := s.ExpireOverdue(ctx); err != nil {
				s.Log.Error().Err(err).Msg("subscription expiry sweep failed")
			}
		}
	}
}
