/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - Decimal formatting (two places for money) at one boundary
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Auth:
    SignupRequest, LoginRequest, SessionResponse, UserDTO

  Account:
    AccountDTO, InvestmentDTO, AccrualDTO, HomeDTO

  Operations:
    AmountRequest, DepositResponse, InvestmentResponse, CloseResponse,
    SettlementDTO

  Journal:
    EntryDTO

MONEY FORMAT:
  Amounts are JSON strings with exactly two decimals ("100.50") so clients
  never round through float64. *Display fields carry the currency rendering
  ("$100.50"). Rates are percent strings as entered ("10", "7.25").

VALIDATION:
  Validation is done by the ledger engine, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/format.go: FormatAmount, FormatMoney, ROIStatement
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/capital-ledger/account"
	"github.com/warp/capital-ledger/auth"
	"github.com/warp/capital-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// flexString accepts a JSON string or a JSON number and keeps its text.
// Numbers are not routed through float64.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a number or a string, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// AmountRequest is the body of deposit and investment calls.
// roiRate is accepted as an alias of roi_rate for form-era clients.
type AmountRequest struct {
	Amount     flexString `json:"amount"`
	ROIRate    flexString `json:"roi_rate"`
	ROIRateAlt flexString `json:"roiRate"`
}

func (r AmountRequest) rate() string {
	if r.ROIRate != "" {
		return string(r.ROIRate)
	}
	return string(r.ROIRateAlt)
}

// SignupRequest mirrors the signup form field names.
type SignupRequest struct {
	FirstName       string `json:"firstname"`
	LastName        string `json:"lastname"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// SessionResponse is returned by signup and login. The token is also set as
// a cookie; API clients may send it as a Bearer token instead.
type SessionResponse struct {
	User      UserDTO   `json:"user"`
	AccountID string    `json:"account_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AccrualDTO struct {
	Days      string `json:"days"`
	Gain      string `json:"gain"`
	Statement string `json:"statement"`
}

type InvestmentDTO struct {
	ID          string      `json:"id"`
	Amount      string      `json:"amount"`
	ROIRate     string      `json:"roi_rate"`
	Status      string      `json:"status"`
	StatusLabel string      `json:"status_label"`
	CreatedAt   time.Time   `json:"created_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	Payout      string      `json:"payout,omitempty"`
	Accrued     *AccrualDTO `json:"accrued,omitempty"` // open investments only
}

type AccountDTO struct {
	ID             string          `json:"id"`
	Balance        string          `json:"balance"`
	BalanceDisplay string          `json:"balance_display"`
	Invested       string          `json:"invested"`
	Investments    []InvestmentDTO `json:"investments"`
	Version        int64           `json:"version"`
}

// HomeDTO is the dashboard payload.
type HomeDTO struct {
	User             UserDTO    `json:"user"`
	Account          AccountDTO `json:"account"`
	AccruedTotal     string     `json:"accrued_total"`
	AccruedStatement string     `json:"accrued_statement"`
	AsOf             time.Time  `json:"as_of"`
}

type EntryDTO struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	InvestmentID string    `json:"investment_id,omitempty"`
	Amount       string    `json:"amount"`
	Gain         string    `json:"gain"`
	BalanceAfter string    `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

type SettlementDTO struct {
	InvestmentID string    `json:"investment_id"`
	Principal    string    `json:"principal"`
	Days         string    `json:"days"`
	Gain         string    `json:"gain"`
	Payout       string    `json:"payout"`
	Statement    string    `json:"statement"`
	ClosedAt     time.Time `json:"closed_at"`
}

type DepositResponse struct {
	Account AccountDTO `json:"account"`
	Entry   EntryDTO   `json:"entry"`
}

type InvestmentResponse struct {
	Account    AccountDTO    `json:"account"`
	Investment InvestmentDTO `json:"investment"`
}

type CloseResponse struct {
	Account    AccountDTO    `json:"account"`
	Settlement SettlementDTO `json:"settlement"`
}

type TransactionsResponse struct {
	Entries []EntryDTO `json:"entries"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toUserDTO(u auth.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Name:      u.Name(),
		Email:     u.Email,
	}
}

func toAccrualDTO(a ledger.Accrual, currency string) *AccrualDTO {
	return &AccrualDTO{
		Days:      a.Days.StringFixed(4),
		Gain:      ledger.FormatAmount(a.Gain),
		Statement: ledger.ROIStatement(a, currency),
	}
}

// toInvestmentDTO renders an investment; open ones get an accrual preview at now.
func toInvestmentDTO(inv ledger.Investment, now time.Time, currency string) InvestmentDTO {
	dto := InvestmentDTO{
		ID:          string(inv.ID),
		Amount:      ledger.FormatAmount(inv.Amount),
		ROIRate:     inv.ROIRate.String(),
		Status:      string(inv.Status),
		StatusLabel: inv.Status.Label(),
		CreatedAt:   inv.CreatedAt,
		ClosedAt:    inv.ClosedAt,
	}
	if inv.IsOpen() {
		dto.Accrued = toAccrualDTO(ledger.AccrueInvestment(inv, now), currency)
	} else {
		dto.Payout = ledger.FormatAmount(inv.Payout)
	}
	return dto
}

func toAccountDTO(acc *ledger.Account, now time.Time, currency string) AccountDTO {
	dto := AccountDTO{
		ID:             string(acc.ID),
		Balance:        ledger.FormatAmount(acc.Balance),
		BalanceDisplay: ledger.FormatMoney(acc.Balance, currency),
		Invested:       ledger.FormatAmount(acc.Invested()),
		Investments:    make([]InvestmentDTO, len(acc.Investments)),
		Version:        acc.Version,
	}
	for i, inv := range acc.Investments {
		dto.Investments[i] = toInvestmentDTO(inv, now, currency)
	}
	return dto
}

func toHomeDTO(u auth.User, p *account.Preview, currency string) HomeDTO {
	return HomeDTO{
		User:             toUserDTO(u),
		Account:          toAccountDTO(p.Account, p.At, currency),
		AccruedTotal:     ledger.FormatAmount(p.TotalGain),
		AccruedStatement: ledger.ROIStatement(ledger.Accrual{Gain: p.TotalGain}, currency),
		AsOf:             p.At,
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		Type:         string(e.Type),
		InvestmentID: string(e.InvestmentID),
		Amount:       ledger.FormatAmount(e.Amount),
		Gain:         ledger.FormatAmount(e.Gain),
		BalanceAfter: ledger.FormatAmount(e.BalanceAfter),
		CreatedAt:    e.CreatedAt,
	}
}

func toSettlementDTO(s ledger.Settlement, currency string) SettlementDTO {
	return SettlementDTO{
		InvestmentID: string(s.InvestmentID),
		Principal:    ledger.FormatAmount(s.Principal),
		Days:         s.Accrual.Days.StringFixed(4),
		Gain:         ledger.FormatAmount(s.Accrual.Gain),
		Payout:       ledger.FormatAmount(s.Payout),
		Statement:    ledger.ROIStatement(s.Accrual, currency),
		ClosedAt:     s.ClosedAt,
	}
}
