/*
engine.go - Deposit / invest / update / close operations

PURPOSE:
  The Engine is the only code allowed to change an Account. Every operation
  validates its input first and mutates the account only when all checks
  pass, so a rejected operation leaves the account exactly as it was.

STATE MACHINE (Investment):
  open --close--> closed
  open is initial, closed is terminal. Nothing re-opens an investment.

MONEY MOVEMENT:
  Deposit:          balance += amount
  OpenInvestment:   balance -= amount, new open investment
  UpdateInvestment: terms edited, balance untouched
  CloseInvestment:  balance += amount + gain, status = closed

ACCRUAL:
  gain = amount * (roiRate / 100) * (daysHeld / 365)
  daysHeld is fractional and measured from the investment's CreatedAt.

CLOCK:
  The engine reads time only through its Clock, so tests pin "now".

SEE ALSO:
  - accrual.go: Gain formula
  - account/service.go: Load -> operate -> save orchestration
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Clock returns the current time.
type Clock func() time.Time

// Engine executes ledger operations against an in-memory Account.
// It holds no account state and is safe for concurrent use.
type Engine struct {
	now   Clock
	newID func() string
}

// NewEngine creates an engine. A nil clock means time.Now.
func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{now: clock, newID: uuid.NewString}
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// =============================================================================
// INPUT PARSING
// =============================================================================

// Input limits. MaxInputScale is the finest fraction accepted (1e-8);
// finer inputs are accepted only when the extra digits are zeros.
// MaxInputDigits bounds the integer part so a single input cannot inflate
// every later sum on the account.
const (
	MaxInputScale  = 8
	MaxInputDigits = 40

	// Exponents beyond this are rejected before any rescaling happens.
	maxInputExponent = 64
)

// ParseDecimal parses a user-supplied number. Empty, non-numeric and
// non-finite inputs are rejected with a *ValidationError, and so are inputs
// with more than MaxInputScale significant decimal places or more than
// MaxInputDigits integer digits.
func ParseDecimal(field, input string) (decimal.Decimal, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: field, Input: input, Reason: "is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: field, Input: input, Reason: "is not a number"}
	}

	exp := d.Exponent()
	if exp < -maxInputExponent {
		return decimal.Zero, &ValidationError{Field: field, Input: input, Reason: fmt.Sprintf("has more than %d decimal places", MaxInputScale)}
	}
	if exp > maxInputExponent || d.NumDigits()+int(exp) > MaxInputDigits {
		return decimal.Zero, &ValidationError{Field: field, Input: input, Reason: "is too large"}
	}
	if exp < -MaxInputScale {
		rounded := d.Round(MaxInputScale)
		if !rounded.Equal(d) {
			return decimal.Zero, &ValidationError{Field: field, Input: input, Reason: fmt.Sprintf("has more than %d decimal places", MaxInputScale)}
		}
		d = rounded
	}
	return d, nil
}

func parsePositive(field, input string) (decimal.Decimal, error) {
	d, err := ParseDecimal(field, input)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return d, &ValidationError{Field: field, Input: input, Reason: "must be greater than zero"}
	}
	return d, nil
}

func parseRate(input string) (decimal.Decimal, error) {
	d, err := ParseDecimal("roi_rate", input)
	if err != nil {
		return d, err
	}
	if d.IsNegative() {
		return d, &ValidationError{Field: "roi_rate", Input: input, Reason: "must not be negative"}
	}
	return d, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Deposit adds cash to the balance. There is no ceiling.
func (e *Engine) Deposit(acc *Account, amountInput string) (Entry, error) {
	if acc == nil {
		return Entry{}, ErrAccountNotFound
	}
	amount, err := parsePositive("amount", amountInput)
	if err != nil {
		return Entry{}, err
	}

	acc.Balance = acc.Balance.Add(amount)
	return e.entry(acc, EntryDeposit, "", amount, decimal.Zero, e.now()), nil
}

// OpenInvestment moves amount from the balance into a new open investment.
// Checks run in order: both inputs parse, amount > 0, amount <= balance.
func (e *Engine) OpenInvestment(acc *Account, amountInput, roiRateInput string) (Investment, Entry, error) {
	if acc == nil {
		return Investment{}, Entry{}, ErrAccountNotFound
	}
	amount, err := ParseDecimal("amount", amountInput)
	if err != nil {
		return Investment{}, Entry{}, err
	}
	rate, err := parseRate(roiRateInput)
	if err != nil {
		return Investment{}, Entry{}, err
	}
	if !amount.IsPositive() {
		return Investment{}, Entry{}, &ValidationError{Field: "amount", Input: amountInput, Reason: "must be greater than zero"}
	}
	if amount.GreaterThan(acc.Balance) {
		return Investment{}, Entry{}, &InsufficientBalanceError{
			AccountID: acc.ID,
			Available: acc.Balance,
			Requested: amount,
			Shortfall: amount.Sub(acc.Balance),
		}
	}

	now := e.now()
	inv := Investment{
		ID:        InvestmentID(e.newID()),
		Amount:    amount,
		ROIRate:   rate,
		CreatedAt: now,
		Status:    StatusOpen,
		Payout:    decimal.Zero,
	}
	acc.Balance = acc.Balance.Sub(amount)
	acc.Investments = append(acc.Investments, inv)

	return inv, e.entry(acc, EntryInvest, inv.ID, amount.Neg(), decimal.Zero, now), nil
}

// UpdateInvestment overwrites the terms of an open investment.
// The balance is not re-debited or re-credited; Status and CreatedAt are kept.
func (e *Engine) UpdateInvestment(acc *Account, id InvestmentID, amountInput, roiRateInput string) (Investment, Entry, error) {
	if acc == nil {
		return Investment{}, Entry{}, ErrAccountNotFound
	}
	inv, err := acc.Investment(id)
	if err != nil {
		return Investment{}, Entry{}, err
	}
	if !inv.IsOpen() {
		return Investment{}, Entry{}, ErrInvestmentClosed
	}
	amount, err := parsePositive("amount", amountInput)
	if err != nil {
		return Investment{}, Entry{}, err
	}
	rate, err := parseRate(roiRateInput)
	if err != nil {
		return Investment{}, Entry{}, err
	}

	inv.Amount = amount
	inv.ROIRate = rate
	return *inv, e.entry(acc, EntryUpdate, id, decimal.Zero, decimal.Zero, e.now()), nil
}

// Settlement describes the money returned by closing an investment.
type Settlement struct {
	InvestmentID InvestmentID
	Principal    decimal.Decimal
	Accrual      Accrual
	Payout       decimal.Decimal
	ClosedAt     time.Time
}

// CloseInvestment credits principal plus prorated gain and closes the
// investment. A zero now means the engine clock. Closing twice is rejected
// with ErrInvestmentClosed so a retried request cannot double-credit.
func (e *Engine) CloseInvestment(acc *Account, id InvestmentID, now time.Time) (Settlement, Entry, error) {
	if acc == nil {
		return Settlement{}, Entry{}, ErrAccountNotFound
	}
	inv, err := acc.Investment(id)
	if err != nil {
		return Settlement{}, Entry{}, err
	}
	if !inv.IsOpen() {
		return Settlement{}, Entry{}, ErrInvestmentClosed
	}
	if now.IsZero() {
		now = e.now()
	}

	accrual := AccrueInvestment(*inv, now)
	payout := inv.Amount.Add(accrual.Gain)

	acc.Balance = acc.Balance.Add(payout)
	closedAt := now
	inv.Status = StatusClosed
	inv.ClosedAt = &closedAt
	inv.Payout = payout

	s := Settlement{
		InvestmentID: id,
		Principal:    inv.Amount,
		Accrual:      accrual,
		Payout:       payout,
		ClosedAt:     now,
	}
	return s, e.entry(acc, EntryClose, id, payout, accrual.Gain, now), nil
}

func (e *Engine) entry(acc *Account, typ EntryType, invID InvestmentID, amount, gain decimal.Decimal, at time.Time) Entry {
	return Entry{
		ID:           EntryID(e.newID()),
		AccountID:    acc.ID,
		Type:         typ,
		InvestmentID: invID,
		Amount:       amount,
		Gain:         gain,
		BalanceAfter: acc.Balance,
		CreatedAt:    at,
	}
}
