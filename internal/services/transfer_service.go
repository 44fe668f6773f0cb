// Package services – TransferService
//
// This file implements TransferService, the component that executes ledger
// transfers end to end: validation, balance check, block anchoring, signing,
// submission with retry behind a circuit breaker, and confirmation tracking.
//
// Submitted transactions are registered in an in-memory pending set that a
// single polling loop drains with batched status queries. Callers wait on
// AwaitConfirmation, which resolves when the poller observes finality, a
// ledger-reported failure, or the per-transaction timeout.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include signatures and amounts where applicable.
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/coria/go-payments-backend/internal/breaker"
	"github.com/coria/go-payments-backend/internal/chain"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Breaker keys used for ledger traffic.
const (
	BreakerSubmit = "ledger:submit"
	BreakerQuery  = "ledger:query"
)

// fatalSubmitPatterns identify gateway errors that retrying can never fix.
var fatalSubmitPatterns = []string{
	"insufficient funds",
	"invalid signature",
	"transaction too large",
	"invalid address",
	"block reference not found",
}

func fatalSubmit(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	for _, p := range fatalSubmitPatterns {
		if strings.Contains(low, p) {
			return true
		}
	}
	return false
}

// Outcome is the final result of tracking one submitted transaction.
type Outcome struct {
	Signature string
	Confirmed bool
	Err       error
}

type pendingTx struct {
	deadline time.Time
	done     chan Outcome
}

// TransferService executes and tracks ledger transfers.
type TransferService struct {
	Client   chain.Client
	Signer   chain.Signer
	Breakers *breaker.Manager
	Retry    breaker.Policy

	// MaxAmountUnits caps a single transfer; zero disables the cap.
	MaxAmountUnits int64
	// MinConfirmations resolves a transaction as confirmed once the gateway
	// reports at least this much confirmation depth. Finality always
	// qualifies; zero means finality only.
	MinConfirmations int
	// PollInterval is the cadence of the confirmation poller.
	PollInterval time.Duration
	// ConfirmTimeout bounds how long a submitted transaction is tracked.
	ConfirmTimeout time.Duration

	Clock clock.Clock
	Log   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingTx
}

// NewTransferService constructs a TransferService with the standard ledger
// profile: 2s polling, 60s confirmation timeout, 3 submit attempts, one
// confirmation to resolve.
func NewTransferService(client chain.Client, signer chain.Signer, breakers *breaker.Manager, clk clock.Clock, log zerolog.Logger) *TransferService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &TransferService{
		Client:           client,
		Signer:           signer,
		Breakers:         breakers,
		Retry:            breaker.DefaultPolicy(),
		MinConfirmations: 1,
		PollInterval:     2 * time.Second,
		ConfirmTimeout:   60 * time.Second,
		Clock:            clk,
		Log:              log,
		pending:          make(map[string]*pendingTx),
	}
}

// Submit validates, signs, and broadcasts a transfer from the service wallet
// to destination, returning the transaction signature. The transaction is
// registered with the confirmation poller before returning.
func (s *TransferService) Submit(ctx context.Context, destination string, amountUnits int64, memo string) (string, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("destination", destination),
			attribute.Int64("amount_units", amountUnits),
		),
	)
	defer span.End()

	source := s.Signer.Address()
	if err := s.validate(source, destination, amountUnits); err != nil {
		return "", err
	}

	// Balance must cover amount plus the estimated network fee.
	fee, err := s.Client.EstimateFee(ctx)
	if err != nil || fee <= 0 {
		fee = chain.EstimatedFeeUnits
	}
	var balance int64
	err = s.Breakers.Execute(ctx, BreakerQuery, func(ctx context.Context) error {
		var berr error
		balance, berr = s.Client.Balance(ctx, source)
		return berr
	})
	if err != nil {
		return "", err
	}
	if balance < amountUnits+fee {
		return "", ErrInsufficientBalance
	}

	var signature string
	err = s.Breakers.ExecuteRetry(ctx, BreakerSubmit, s.Retry, fatalSubmit, func(ctx context.Context) error {
		// Re-anchor on every attempt so retries never reuse a stale block.
		ref, berr := s.Client.LatestBlock(ctx)
		if berr != nil {
			return berr
		}
		signed, berr := s.Signer.Sign(chain.TransferRequest{
			From:        source,
			To:          destination,
			AmountUnits: amountUnits,
			Block:       ref,
			Memo:        memo,
		})
		if berr != nil {
			return berr
		}
		signature, berr = s.Client.SubmitTransfer(ctx, signed)
		return berr
	})
	if err != nil {
		s.Log.Error().Err(err).Str("destination", destination).Msg("transfer submission failed")
		return "", err
	}

	s.track(signature)
	s.Log.Info().Str("signature", signature).Int64("amount_units", amountUnits).Msg("transfer submitted")
	return signature, nil
}

func (s *TransferService) validate(source, destination string, amountUnits int64) error {
	if !chain.ValidAddress(source) || !chain.ValidAddress(destination) {
		return ErrInvalidAddress
	}
	if source == destination {
		return ErrSameAddress
	}
	if amountUnits <= 0 {
		return ErrInvalidAmount
	}
	if s.MaxAmountUnits > 0 && amountUnits > s.MaxAmountUnits {
		return ErrAmountTooLarge
	}
	return nil
}

// track registers signature with the poller.
func (s *TransferService) track(signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[signature]; ok {
		return
	}
	s.pending[signature] = &pendingTx{
		deadline: s.Clock.Now().Add(s.ConfirmTimeout),
		done:     make(chan Outcome, 1),
	}
	pendingGauge.Set(float64(len(s.pending)))
}

// AwaitConfirmation blocks until the poller resolves signature or ctx is
// cancelled. For signatures the service is not tracking it performs a single
// direct status check instead.
func (s *TransferService) AwaitConfirmation(ctx context.Context, signature string) (Outcome, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "AwaitConfirmation",
		trace.WithAttributes(attribute.String("signature", signature)),
	)
	defer span.End()

	s.mu.Lock()
	p, ok := s.pending[signature]
	s.mu.Unlock()
	if !ok {
		st, err := s.CheckStatus(ctx, signature)
		if err != nil {
			return Outcome{Signature: signature}, err
		}
		return s.outcomeFromStatus(signature, st), nil
	}

	select {
	case <-ctx.Done():
		return Outcome{Signature: signature}, ctx.Err()
	case out := <-p.done:
		return out, nil
	}
}

// CheckStatus performs a one-shot status query for signature.
func (s *TransferService) CheckStatus(ctx context.Context, signature string) (chain.SigStatus, error) {
	var st chain.SigStatus
	err := s.Breakers.Execute(ctx, BreakerQuery, func(ctx context.Context) error {
		statuses, qerr := s.Client.SignatureStatuses(ctx, []string{signature})
		if qerr != nil {
			return qerr
		}
		if len(statuses) > 0 {
			st = statuses[0]
		} else {
			st = chain.SigStatus{Signature: signature}
		}
		return nil
	})
	return st, err
}

// VerifyTransfer fetches the finalized transaction and checks it contains
// exactly one transfer of expectedAmount to expectedDestination. A nil
// return means the on-ledger movement matches the payment record.
func (s *TransferService) VerifyTransfer(ctx context.Context, signature, expectedDestination string, expectedAmount int64) error {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "VerifyTransfer",
		trace.WithAttributes(attribute.String("signature", signature)),
	)
	defer span.End()

	var detail *chain.TxDetail
	err := s.Breakers.Execute(ctx, BreakerQuery, func(ctx context.Context) error {
		var qerr error
		detail, qerr = s.Client.Transaction(ctx, signature)
		return qerr
	})
	if err != nil {
		return err
	}
	if detail.Err != "" {
		return &MismatchError{Reason: "transaction failed on ledger: " + detail.Err}
	}
	if len(detail.Transfers) != 1 {
		return &MismatchError{Reason: "transaction does not contain exactly one transfer"}
	}
	t := detail.Transfers[0]
	if t.AmountUnits != expectedAmount {
		return &MismatchError{Reason: "on-ledger amount differs from payment amount"}
	}
	if t.Destination != expectedDestination {
		return &MismatchError{Reason: "on-ledger destination differs from target pool"}
	}
	return nil
}

// MismatchError marks a discrepancy between the payment record and what the
// ledger actually executed. Payments failing verification are marked
// mismatch, never confirmed.
type MismatchError struct {
	Reason string
}

// Error implements the error interface.
func (e *MismatchError) Error() string { return e.Reason }

// RunPoller drives confirmation tracking until ctx is cancelled. One loop
// serves all pending transactions with batched status queries.
func (s *TransferService) RunPoller(ctx context.Context) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Clock.After(interval):
			s.pollOnce(ctx)
		}
	}
}

// pollOnce queries the status of every pending signature and resolves those
// that finished or timed out.
func (s *TransferService) pollOnce(ctx context.Context) {
	s.mu.Lock()
	sigs := make([]string, 0, len(s.pending))
	for sig := range s.pending {
		sigs = append(sigs, sig)
	}
	s.mu.Unlock()
	if len(sigs) == 0 {
		return
	}

	var statuses []chain.SigStatus
	err := s.Breakers.Execute(ctx, BreakerQuery, func(ctx context.Context) error {
		var qerr error
		statuses, qerr = s.Client.SignatureStatuses(ctx, sigs)
		return qerr
	})
	if err != nil {
		// Transient; pending entries stay and the next tick retries. Timed
		// out entries are still reaped below.
		s.Log.Warn().Err(err).Msg("confirmation poll failed")
	}

	bySig := make(map[string]chain.SigStatus, len(statuses))
	for _, st := range statuses {
		bySig[st.Signature] = st
	}

	now := s.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for sig, p := range s.pending {
		if st, ok := bySig[sig]; ok {
			if st.Err != "" {
				s.resolve(sig, p, Outcome{Signature: sig, Err: &MismatchError{Reason: "transaction failed on ledger: " + st.Err}})
				continue
			}
			if s.confirmedAt(st) {
				s.resolve(sig, p, Outcome{Signature: sig, Confirmed: true})
				continue
			}
		}
		if now.After(p.deadline) {
			s.resolve(sig, p, Outcome{Signature: sig, Err: ErrConfirmationTimeout})
		}
	}
}

// resolve delivers out and removes sig from the pending set. Caller holds s.mu.
func (s *TransferService) resolve(sig string, p *pendingTx, out Outcome) {
	p.done <- out
	delete(s.pending, sig)
	pendingGauge.Set(float64(len(s.pending)))
	if out.Confirmed {
		confirmedTotal.Inc()
	} else {
		failedTotal.Inc()
	}
}

// PendingCount returns the number of transactions awaiting confirmation.
func (s *TransferService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// confirmedAt reports whether st has enough confirmation depth: finality
// always qualifies, and a configured MinConfirmations is met by depth alone.
func (s *TransferService) confirmedAt(st chain.SigStatus) bool {
	if st.Finalized {
		return true
	}
	return s.MinConfirmations > 0 && st.Confirmations >= s.MinConfirmations
}

func (s *TransferService) outcomeFromStatus(signature string, st chain.SigStatus) Outcome {
	switch {
	case st.Err != "":
		return Outcome{Signature: signature, Err: &MismatchError{Reason: "transaction failed on ledger: " + st.Err}}
	case s.confirmedAt(st):
		return Outcome{Signature: signature, Confirmed: true}
	default:
		return Outcome{Signature: signature, Err: ErrStillPending}
	}
}
