// Package session manages ephemeral delegation sessions: the bounded,
// revocable runtime grant of a user's purchasing mandate to one agent.
package session

import (
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/rule"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

// Status is the session lifecycle state. ACTIVE is the only non-terminal
// status: a session moves ACTIVE->EXPIRED on the clock or ACTIVE->REVOKED
// explicitly, and neither transition is reversible.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Terminal reports whether no further status transition is possible.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

// Intent is one authorized action scope within a session: which merchants
// and categories the agent may transact with, and the largest single
// transaction it may propose.
type Intent struct {
	// ID uniquely identifies the intent within the session.
	ID string `json:"intent_id"`
	// Action names the authorized action, e.g. "purchase".
	Action string `json:"action"`
	// MaxAmount caps a single transaction under this intent. Zero value
	// means uncapped.
	MaxAmount money.Amount `json:"max_amount,omitempty"`
	// Merchants limits the counterparties. Empty means any merchant.
	Merchants []string `json:"merchant_restrictions,omitempty"`
	// Categories limits the product categories. Empty means any category.
	Categories []string `json:"category_restrictions,omitempty"`
}

// Covers reports whether the intent authorizes the given transaction.
// A capped intent in a different currency never covers the transaction:
// currency conversion is out of scope, so ambiguity fails closed.
func (i Intent) Covers(t txn.Transaction) bool {
	if len(i.Merchants) > 0 {
		found := false
		for _, m := range i.Merchants {
			if m == t.MerchantID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(i.Categories) > 0 {
		found := false
		for _, allowed := range i.Categories {
			for _, c := range t.Categories {
				if allowed == c {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	if !i.MaxAmount.IsZero() {
		if !i.MaxAmount.SameCurrency(t.Amount) {
			return false
		}
		if t.Amount.Value > i.MaxAmount.Value+money.Epsilon {
			return false
		}
	}
	return true
}

// Session is a delegated-authority grant: user, agent, authorized intents,
// the spending rules in force, and replay-protection state.
//
// The rule set is immutable for the session's lifetime. Changing rules
// means issuing a new session, which keeps the audit trail unambiguous.
type Session struct {
	// ID is a UUID assigned at issuance.
	ID string `json:"session_id"`
	// AgentID identifies the delegated agent (e.g., its DID).
	AgentID string `json:"agent_id"`
	// UserWallet identifies the authorizing user.
	UserWallet string `json:"user_wallet"`
	// Intents are the authorized action scopes, in grant order.
	Intents []Intent `json:"intents"`
	// Rules are the spending rules attached at issuance.
	Rules rule.Set `json:"rules"`
	// Status is the lifecycle state.
	Status Status `json:"status"`
	// Nonce is the monotonically increasing replay-protection counter.
	// A request must present Nonce+1 to validate.
	Nonce uint64 `json:"nonce"`
	// CreatedAt is when the session was issued (UTC).
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the absolute expiry (UTC).
	ExpiresAt time.Time `json:"expires_at"`
	// LastUsed is the last successful validation (UTC).
	LastUsed time.Time `json:"last_used,omitempty"`
}

// ExpiredAt reports whether the session's expiry has passed at the given
// instant.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CoveredByIntent reports whether any of the session's intents authorizes
// the transaction. Used as the AUTHORITY_SCOPE trip condition.
func (s *Session) CoveredByIntent(t txn.Transaction) bool {
	for _, in := range s.Intents {
		if in.Covers(t) {
			return true
		}
	}
	return false
}
