// Package txn defines the proposed-transaction type evaluated by the
// governance engine. The engine never executes transactions; it only
// decides whether the proposing agent may proceed.
package txn

import (
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
)

// Transaction is a purchase an agent proposes to execute.
type Transaction struct {
	// Amount is the transaction total.
	Amount money.Amount `json:"amount"`
	// MerchantID identifies the counterparty.
	MerchantID string `json:"merchant_id"`
	// Categories are the product category tags on the cart.
	Categories []string `json:"categories,omitempty"`
	// Timestamp is when the transaction is proposed (UTC).
	Timestamp time.Time `json:"timestamp"`
}
