// Package payment defines the boundary to the external card processor.
// Calls are synchronous and never retried at this layer; retry policy, if
// any, belongs to the adapter's transport.
package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionResult is the processor's answer to any gateway call. Success
// false with a populated Message is an ordinary decline, not a transport
// error.
type TransactionResult struct {
	Success       bool
	TransactionID string
	Message       string
}

// Gateway wraps the processor operations the order lifecycle needs.
//
// Sale authorizes funds without capturing them. Void cancels an un-settled
// authorization. Refund reverses captured funds. SubmitForSettlement
// captures a previous authorization.
type Gateway interface {
	Sale(ctx context.Context, amount decimal.Decimal, nonce string) (TransactionResult, error)
	Void(ctx context.Context, transactionID string) (TransactionResult, error)
	Refund(ctx context.Context, transactionID string) (TransactionResult, error)
	SubmitForSettlement(ctx context.Context, transactionID string, amount decimal.Decimal) (TransactionResult, error)
}

// FallbackPolicy decides whether a failed refund should be retried as a
// void. Processors reject refunds on transactions that have not settled
// yet; for those the authorization can still be voided. Failures outside
// the policy surface to the caller unchanged.
type FallbackPolicy func(refund TransactionResult) bool

// notSettledMarkers are processor message fragments indicating the
// transaction has not settled and is therefore still voidable.
var notSettledMarkers = []string{
	"cannot be refunded unless it is settled",
	"not settled",
	"unsettled",
}

// DefaultFallbackPolicy falls back to void only when the refusal message
// indicates the transaction never settled.
func DefaultFallbackPolicy(refund TransactionResult) bool {
	msg := strings.ToLower(refund.Message)
	for _, marker := range notSettledMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
