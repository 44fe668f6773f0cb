// Payment HTTP handlers.
//
// This file exposes REST endpoints for payment resources:
//   - POST   /payments                (create pending)
//   - GET    /payments                (list, paginated, ETag support)
//   - GET    /payments/{id}           (fetch one)
//   - POST   /payments/{id}/confirm   (drive confirmation)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/breaker"
	"github.com/coria/go-payments-backend/internal/domain"
	"github.com/coria/go-payments-backend/internal/nonce"
	"github.com/coria/go-payments-backend/internal/ratelimit"
	"github.com/coria/go-payments-backend/internal/repo"
	"github.com/coria/go-payments-backend/internal/services"
	"github.com/coria/go-payments-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PaymentService defines payment lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PaymentService interface {
	// CreatePending opens a pending payment with idempotency protection.
	CreatePending(ctx context.Context, in services.CreatePaymentInput) (*domain.Payment, error)
	// Confirm drives a pending payment to its terminal status.
	Confirm(ctx context.Context, userID, paymentID, txSignature string) (*domain.Payment, error)
	// Get returns a payment by ID with ownership enforced.
	Get(ctx context.Context, userID, paymentID string) (*domain.Payment, error)
	// ListPage returns a page of payments for a user and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Payment, int64, error)
	// CreateWallet registers a sending wallet for the user.
	CreateWallet(ctx context.Context, userID, address, label string) (*domain.Wallet, error)
	// ListWallets returns the user's registered wallets.
	ListWallets(ctx context.Context, userID string) ([]domain.Wallet, error)
}

// PremiumService defines entitlement operations consumed by HTTP handlers.
type PremiumService interface {
	// Plans returns the plan catalog.
	Plans(ctx context.Context) ([]domain.PremiumPlan, error)
	// Activate re-applies the entitlement for a confirmed premium payment.
	Activate(ctx context.Context, userID, paymentID string) (*domain.PremiumSubscription, error)
	// Status returns the current entitlement state for a user.
	Status(ctx context.Context, userID string) (services.SubscriptionStatus, error)
	// Tier returns the rate-limit tier for a user.
	Tier(ctx context.Context, userID string) string
}

// NonceService defines the anti-replay operations consumed by HTTP handlers.
type NonceService interface {
	// Issue creates a fresh nonce bound to a user and operation.
	Issue(userID, operation string) (*nonce.Nonce, error)
	// Consume validates and burns a nonce.
	Consume(userID, operation, value string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for payments, premium entitlements, and
// operational introspection. It depends on abstract service interfaces to
// keep transport concerns separate from business logic.
type Handlers struct {
	paymentSvc PaymentService
	premiumSvc PremiumService
	nonceSvc   NonceService
	limiter    *ratelimit.Limiter
	breakers   *breaker.Manager
}

// New constructs and returns a Handlers instance bound to the given services.
func New(paymentSvc PaymentService, premiumSvc PremiumService, nonceSvc NonceService, limiter *ratelimit.Limiter, breakers *breaker.Manager) *Handlers {
	return &Handlers{
		paymentSvc: paymentSvc,
		premiumSvc: premiumSvc,
		nonceSvc:   nonceSvc,
		limiter:    limiter,
		breakers:   breakers,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreatePaymentRequest is the JSON payload for opening a pending payment.
type CreatePaymentRequest struct {
	// WalletID identifies the sending wallet (must belong to the user).
	WalletID string `json:"wallet_id" binding:"required"`
	// Kind is "donation" or "premium".
	Kind string `json:"kind" binding:"required"`
	// AmountUnits is the transfer amount in minor units.
	AmountUnits int64 `json:"amount_units" binding:"required"`
	// Metadata is an optional JSON blob; premium payments must carry
	// plan_type here.
	Metadata string `json:"metadata"`
}

// ConfirmPaymentRequest is the JSON payload for driving confirmation.
type ConfirmPaymentRequest struct {
	// TxSignature is the ledger transaction signature; optional when it was
	// attached earlier.
	TxSignature string `json:"tx_signature"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPaymentsResponse wraps a page of payments and pagination information.
type ListPaymentsResponse struct {
	Payments   []domain.Payment `json:"payments"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.IntOr(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.IntOr(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// checkRate applies the domain rate limiter for operation, writing the 429
// response itself when the identity is blocked or out of tokens.
func (h *Handlers) checkRate(c *gin.Context, operation string) bool {
	if h.limiter == nil {
		return true
	}
	uid := userID(c)
	tier := "free"
	if h.premiumSvc != nil {
		tier = h.premiumSvc.Tier(c.Request.Context(), uid)
	}
	res := h.limiter.Check(c.Request.Context(), uid, operation, tier, 1)
	if res.Allowed {
		return true
	}
	if res.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())))
	}
	fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
	return false
}

//
// Handlers
//

// CreatePayment opens a pending payment for the current user. The
// Idempotency-Key header (or idempotency_key field) makes retries safe.
func (h *Handlers) CreatePayment(c *gin.Context) {
	if !h.checkRate(c, "payment") {
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	p, err := h.paymentSvc.CreatePending(c.Request.Context(), services.CreatePaymentInput{
		UserID:         userID(c),
		WalletID:       req.WalletID,
		Kind:           req.Kind,
		AmountUnits:    req.AmountUnits,
		IdempotencyKey: idemKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		switch {
		case err == services.ErrIdempotencyConflict:
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		case err == services.ErrInvalidKind,
			err == services.ErrInvalidAmount,
			err == services.ErrAmountTooLarge,
			err == services.ErrWrongPlanAmount:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case err == services.ErrWalletNotFound, err == services.ErrPlanNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, p)
}

// ConfirmPayment drives a pending payment toward its terminal status.
func (h *Handlers) ConfirmPayment(c *gin.Context) {
	paymentID := c.Param("id")
	if _, err := uuid.Parse(paymentID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payment id must be a UUID")
		return
	}
	if !h.checkRate(c, "confirm") {
		return
	}

	var req ConfirmPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	p, err := h.paymentSvc.Confirm(c.Request.Context(), userID(c), paymentID, req.TxSignature)
	switch {
	case err == nil:
		ok(c, http.StatusOK, p)
	case err == services.ErrAlreadyProcessed:
		// Idempotent confirm: report the terminal row.
		ok(c, http.StatusOK, p)
	case err == services.ErrStillPending:
		ok(c, http.StatusAccepted, p)
	case err == services.ErrPaymentNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "payment not found")
	case err == services.ErrNoSignature:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case breaker.IsUnavailable(err):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "ledger temporarily unavailable")
	default:
		if _, isMismatch := err.(*services.MismatchError); isMismatch {
			fail(c, http.StatusUnprocessableEntity, ErrCodeMismatch, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeConfirmFailed, err.Error())
	}
}

// GetPayment returns one payment owned by the current user.
func (h *Handlers) GetPayment(c *gin.Context) {
	paymentID := c.Param("id")
	if _, err := uuid.Parse(paymentID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payment id must be a UUID")
		return
	}
	p, err := h.paymentSvc.Get(c.Request.Context(), userID(c), paymentID)
	if err != nil {
		if err == services.ErrPaymentNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "payment not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}

// ListPayments returns a page of the user's payments. Supports weak ETag via
// If-None-Match and may return 304.
func (h *Handlers) ListPayments(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.paymentSvc.(*services.PaymentService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.PaymentsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"payments:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	// Fetch page.
	items, total, err := h.paymentSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListPaymentsResponse{
		Payments: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// CreateWalletRequest is the JSON payload for registering a wallet.
type CreateWalletRequest struct {
	Address string `json:"address" binding:"required"`
	Label   string `json:"label"`
}

// CreateWallet registers a sending wallet address for the current user.
func (h *Handlers) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	w, err := h.paymentSvc.CreateWallet(c.Request.Context(), userID(c), req.Address, req.Label)
	if err != nil {
		switch err {
		case services.ErrInvalidAddress:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case services.ErrDuplicateWallet:
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, w)
}

// ListWallets returns the current user's registered wallets.
func (h *Handlers) ListWallets(c *gin.Context) {
	ws, err := h.paymentSvc.ListWallets(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"wallets": ws})
}

// RateLimitStatus reports the caller's bucket state for an operation without
// consuming tokens.
func (h *Handlers) RateLimitStatus(c *gin.Context) {
	if h.limiter == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "rate limiting disabled")
		return
	}
	operation := c.DefaultQuery("operation", "payment")
	uid := userID(c)
	tier := "free"
	if h.premiumSvc != nil {
		tier = h.premiumSvc.Tier(c.Request.Context(), uid)
	}
	ok(c, http.StatusOK, gin.H{
		"status":  h.limiter.Status(uid, operation, tier),
		"limiter": h.limiter.Stats(),
	})
}
