package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coria/go-payments-backend/internal/nonce"
	"github.com/coria/go-payments-backend/internal/services"
)

// OpActivatePremium names the operation premium activation nonces are bound to.
const OpActivatePremium = "premium:activate"

// IssueNonceRequest is the JSON payload for requesting an activation nonce.
type IssueNonceRequest struct {
	// Operation names the action the nonce will authorize. Defaults to
	// premium activation.
	Operation string `json:"operation"`
}

// ActivatePremiumRequest is the JSON payload for re-applying an entitlement.
type ActivatePremiumRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
}

// IssueNonce hands out a single-use nonce for a sensitive operation.
func (h *Handlers) IssueNonce(c *gin.Context) {
	if !h.checkRate(c, "nonce") {
		return
	}
	var req IssueNonceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	op := strings.TrimSpace(req.Operation)
	if op == "" {
		op = OpActivatePremium
	}
	n, err := h.nonceSvc.Issue(userID(c), op)
	if err != nil {
		if errors.Is(err, nonce.ErrTooManyNonces) {
			fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusCreated, n)
}

// ActivatePremium re-applies the entitlement for an already confirmed premium
// payment. The caller must present a valid, unused nonce.
func (h *Handlers) ActivatePremium(c *gin.Context) {
	if !h.checkRate(c, "confirm") {
		return
	}
	var req ActivatePremiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if _, err := uuid.Parse(req.PaymentID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payment_id must be a UUID")
		return
	}

	uid := userID(c)
	if err := h.nonceSvc.Consume(uid, OpActivatePremium, req.Nonce); err != nil {
		switch {
		case errors.Is(err, nonce.ErrAlreadyUsed):
			fail(c, http.StatusConflict, ErrCodeInvalidNonce, "nonce already used")
		case errors.Is(err, nonce.ErrExpired):
			fail(c, http.StatusBadRequest, ErrCodeInvalidNonce, "nonce expired")
		default:
			fail(c, http.StatusBadRequest, ErrCodeInvalidNonce, "invalid nonce")
		}
		return
	}

	sub, err := h.premiumSvc.Activate(c.Request.Context(), uid, req.PaymentID)
	if err != nil {
		switch {
		case err == services.ErrPaymentNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "payment not found")
		case err == services.ErrPaymentNotConfirmed:
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		case err == services.ErrNotPremiumPayment, err == services.ErrPlanNotFound:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, sub)
}

// PremiumStatus reports the caller's entitlement state.
func (h *Handlers) PremiumStatus(c *gin.Context) {
	st, err := h.premiumSvc.Status(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}

// ListPlans returns the premium plan catalog, cheapest first.
func (h *Handlers) ListPlans(c *gin.Context) {
	plans, err := h.premiumSvc.Plans(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"plans": plans})
}

// BreakerStats exposes circuit breaker snapshots for operators.
func (h *Handlers) BreakerStats(c *gin.Context) {
	if h.breakers == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "circuit breakers disabled")
		return
	}
	ok(c, http.StatusOK, h.breakers.StatsAll())
}
