// Package chain talks to the ledger network node gateway. It defines the
// narrow Client interface consumed by the service layer, the wire types
// shared with the gateway's JSON API, and address validation helpers.
package chain

import (
	"context"
	"time"
)

// EstimatedFeeUnits is the flat per-transfer network fee assumed when the
// gateway does not provide a live estimate.
const EstimatedFeeUnits int64 = 5000

// BlockRef anchors a transfer to a recent block so the network can reject
// stale submissions.
type BlockRef struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
}

// TransferRequest is an unsigned transfer. Amounts are in minor units.
type TransferRequest struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	AmountUnits int64    `json:"amount_units"`
	Block       BlockRef `json:"block"`
	Memo        string   `json:"memo,omitempty"`
}

// SignedTransfer is a TransferRequest plus the sender's signature over its
// canonical encoding.
type SignedTransfer struct {
	Transfer  TransferRequest `json:"transfer"`
	PublicKey string          `json:"public_key"`
	Signature string          `json:"signature"`
}

// SigStatus is the confirmation state of one submitted transaction.
type SigStatus struct {
	Signature     string `json:"signature"`
	Confirmations int    `json:"confirmations"`
	Finalized     bool   `json:"finalized"`
	Err           string `json:"error,omitempty"`
}

// Known reports whether the network has seen the transaction at all.
func (s SigStatus) Known() bool {
	return s.Confirmations > 0 || s.Finalized || s.Err != ""
}

// Transfer is one movement inside a finalized transaction, as reported by
// the gateway. Used to verify on-ledger amounts against payment records.
type Transfer struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	AmountUnits int64  `json:"amount_units"`
}

// TxDetail is the full record of a transaction visible on the ledger.
type TxDetail struct {
	Signature string     `json:"signature"`
	Transfers []Transfer `json:"transfers"`
	FeeUnits  int64      `json:"fee_units"`
	Finalized bool       `json:"finalized"`
	Err       string     `json:"error,omitempty"`
	BlockTime time.Time  `json:"block_time"`
}

// Client is the node gateway surface the services depend on. The production
// implementation is HTTPClient; tests substitute fakes.
type Client interface {
	// LatestBlock returns a fresh block reference for anchoring transfers.
	LatestBlock(ctx context.Context) (BlockRef, error)
	// Balance returns the spendable balance of address in minor units.
	Balance(ctx context.Context, address string) (int64, error)
	// SubmitTransfer broadcasts a signed transfer and returns its signature.
	SubmitTransfer(ctx context.Context, tx SignedTransfer) (string, error)
	// SignatureStatuses returns confirmation state for a batch of
	// signatures, in the same order as the input.
	SignatureStatuses(ctx context.Context, signatures []string) ([]SigStatus, error)
	// Transaction fetches the full detail of a finalized transaction.
	Transaction(ctx context.Context, signature string) (*TxDetail, error)
	// EstimateFee returns the expected fee for a transfer in minor units.
	EstimateFee(ctx context.Context) (int64, error)
}

// ValidAddress reports whether s looks like a ledger address: between 32 and
// 88 characters drawn from the unambiguous alphanumeric alphabet.
func ValidAddress(s string) bool {
	if len(s) < 32 || len(s) > 88 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
