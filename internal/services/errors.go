// Package services holds the business logic for payments, ledger transfers,
// and premium entitlements.
//
// The sentinel errors below are the service layer's whole error vocabulary:
// services return these, handlers map them to HTTP status codes and the
// public error envelope. Nothing here is client-facing text.
package services

import "errors"

// Payment-related errors.
var (
	// ErrPaymentNotFound indicates that the requested payment does not exist
	// or belongs to a different user.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrWalletNotFound indicates that the sending wallet does not exist,
	// is not owned by the user, or is inactive.
	ErrWalletNotFound = errors.New("wallet not found or inactive")

	// ErrInvalidKind is returned when a payment kind is outside the allowed
	// set (donation, premium).
	ErrInvalidKind = errors.New("payment kind must be donation or premium")

	// ErrInvalidAmount is returned when an amount is not a positive whole
	// number of minor units or is below the configured minimum.
	ErrInvalidAmount = errors.New("amount must be a positive integer above the minimum")

	// ErrAmountTooLarge is returned when an amount exceeds the configured
	// per-transfer ceiling.
	ErrAmountTooLarge = errors.New("amount exceeds the per-transfer maximum")

	// ErrIdempotencyConflict is returned when an idempotency key has already
	// been used with different request parameters.
	ErrIdempotencyConflict = errors.New("idempotency key already used with different parameters")

	// ErrAlreadyProcessed is returned when confirmation is requested for a
	// payment that already reached a terminal status.
	ErrAlreadyProcessed = errors.New("payment already processed")

	// ErrNoSignature is returned when confirmation is requested for a
	// payment that was never submitted to the ledger.
	ErrNoSignature = errors.New("payment has no transaction signature")

	// ErrStillPending is returned when the ledger has not yet confirmed the
	// transaction; the payment stays pending and may be confirmed later.
	ErrStillPending = errors.New("transaction not yet confirmed")

	// ErrDuplicateWallet is returned when registering a wallet address that
	// is already registered.
	ErrDuplicateWallet = errors.New("wallet address already registered")
)

// Transfer-related errors.
var (
	// ErrInvalidAddress is returned when a source or destination address
	// fails validation.
	ErrInvalidAddress = errors.New("invalid ledger address")

	// ErrSameAddress is returned when source and destination are identical.
	ErrSameAddress = errors.New("source and destination must differ")

	// ErrInsufficientBalance is returned when the sending wallet cannot
	// cover the amount plus the estimated network fee.
	ErrInsufficientBalance = errors.New("insufficient balance for amount plus fee")

	// ErrConfirmationTimeout is returned when a submitted transaction was
	// not confirmed within the configured window.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

// Premium-related errors.
var (
	// ErrPlanNotFound indicates an unknown premium plan type.
	ErrPlanNotFound = errors.New("premium plan not found")

	// ErrNotPremiumPayment is returned when premium activation is attempted
	// with a payment whose kind is not premium.
	ErrNotPremiumPayment = errors.New("payment is not a premium payment")

	// ErrPaymentNotConfirmed is returned when premium activation is
	// attempted with a payment that has not been confirmed.
	ErrPaymentNotConfirmed = errors.New("payment is not confirmed")

	// ErrWrongPlanAmount is returned when a premium payment amount is below
	// the plan price. Overpayment is allowed.
	ErrWrongPlanAmount = errors.New("payment amount is below plan price")
)
