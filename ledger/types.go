/*
Package ledger provides the investment lifecycle and accrual engine.

PURPOSE:
  This package owns a user's financial state (cash balance plus a list of
  interest-bearing investments) and the rules that move money between the
  two. It performs no I/O: callers load an Account through an AccountStore,
  run one Engine operation on it, and save it back.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: One user's balance and investments
  - Investment: Principal placed at a simple annual rate
  - Entry: Journal record written alongside every committed operation
  - Identifiers: Type-safe account/investment/entry IDs

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for every amount, rate and gain
  2. One-way lifecycle: Investments go open -> closed, never back
  3. Invariant at rest: Balance is never negative after a committed operation
  4. Explicit lookups: Missing investments are errors, never nil pointers

USAGE:
  acc := ledger.NewAccount("acc-123", time.Now())
  engine := ledger.NewEngine(nil)
  _, err := engine.Deposit(acc, "100")

SEE ALSO:
  - engine.go: Deposit, OpenInvestment, UpdateInvestment, CloseInvestment
  - accrual.go: Simple-interest math
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the persisted layout version of Account records.
const SchemaVersion = 1

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type InvestmentID string
type EntryID string

// =============================================================================
// INVESTMENT STATUS - open -> closed, one way
// =============================================================================

type InvestmentStatus string

const (
	StatusOpen   InvestmentStatus = "open"
	StatusClosed InvestmentStatus = "closed"
)

func (s InvestmentStatus) Valid() bool { return s == StatusOpen || s == StatusClosed }

// Label is the human-readable status shown next to an investment.
func (s InvestmentStatus) Label() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusClosed:
		return "Closed"
	default:
		return string(s)
	}
}

// =============================================================================
// INVESTMENT
// =============================================================================

// Investment is a sum of capital earning simple interest.
// Amount and ROIRate may change only while the investment is open.
type Investment struct {
	ID        InvestmentID
	Amount    decimal.Decimal
	ROIRate   decimal.Decimal // annual percent: 10 means 10%/year
	CreatedAt time.Time
	Status    InvestmentStatus

	// Set on close
	ClosedAt *time.Time
	Payout   decimal.Decimal
}

func (i Investment) IsOpen() bool { return i.Status == StatusOpen }

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is one user's financial state.
//
// INVARIANTS:
//   - Balance >= 0 after every committed operation
//   - Investments are ordered by creation and have unique IDs
//   - Version increases by one on every successful save
type Account struct {
	ID          AccountID
	Balance     decimal.Decimal
	Investments []Investment
	Version     int64
	CreatedAt   time.Time
}

// NewAccount returns an account as it exists right after signup.
func NewAccount(id AccountID, createdAt time.Time) *Account {
	return &Account{
		ID:          id,
		Balance:     decimal.Zero,
		Investments: []Investment{},
		CreatedAt:   createdAt,
	}
}

// Investment returns a pointer to the investment with the given ID so the
// engine can edit it in place.
func (a *Account) Investment(id InvestmentID) (*Investment, error) {
	for i := range a.Investments {
		if a.Investments[i].ID == id {
			return &a.Investments[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvestmentNotFound, id)
}

// OpenInvestments returns the investments still earning interest.
func (a *Account) OpenInvestments() []Investment {
	var open []Investment
	for _, inv := range a.Investments {
		if inv.IsOpen() {
			open = append(open, inv)
		}
	}
	return open
}

// Invested is the principal currently tied up in open investments.
func (a *Account) Invested() decimal.Decimal {
	total := decimal.Zero
	for _, inv := range a.Investments {
		if inv.IsOpen() {
			total = total.Add(inv.Amount)
		}
	}
	return total
}

// Clone returns a deep copy. Stores hand out clones so a mutation that is
// never saved cannot leak into stored state.
func (a *Account) Clone() *Account {
	c := *a
	c.Investments = make([]Investment, len(a.Investments))
	for i, inv := range a.Investments {
		if inv.ClosedAt != nil {
			t := *inv.ClosedAt
			inv.ClosedAt = &t
		}
		c.Investments[i] = inv
	}
	return &c
}

// Validate checks the record shape and the at-rest invariants.
// Stores call it on both sides of the persistence boundary.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing account id", ErrCorruptRecord)
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("%w: negative balance %s", ErrCorruptRecord, a.Balance)
	}
	seen := make(map[InvestmentID]bool, len(a.Investments))
	for _, inv := range a.Investments {
		if inv.ID == "" {
			return fmt.Errorf("%w: investment without id", ErrCorruptRecord)
		}
		if seen[inv.ID] {
			return fmt.Errorf("%w: duplicate investment id %s", ErrCorruptRecord, inv.ID)
		}
		seen[inv.ID] = true
		if !inv.Status.Valid() {
			return fmt.Errorf("%w: investment %s has status %q", ErrCorruptRecord, inv.ID, inv.Status)
		}
		if inv.CreatedAt.IsZero() {
			return fmt.Errorf("%w: investment %s has no creation time", ErrCorruptRecord, inv.ID)
		}
	}
	return nil
}

// =============================================================================
// ENTRY - Journal record of a committed operation
// =============================================================================

type EntryType string

const (
	EntryDeposit EntryType = "deposit"
	EntryInvest  EntryType = "invest"
	EntryUpdate  EntryType = "update"
	EntryClose   EntryType = "close"
)

// Entry is an append-only record of one committed operation.
// Amount is the signed change to the cash balance.
type Entry struct {
	ID             EntryID
	AccountID      AccountID
	Type           EntryType
	InvestmentID   InvestmentID // empty for deposits
	Amount         decimal.Decimal
	Gain           decimal.Decimal
	BalanceAfter   decimal.Decimal
	IdempotencyKey string
	CreatedAt      time.Time
}
