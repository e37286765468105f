package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/capital-ledger/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var epoch = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable clock for deterministic accrual.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine() (*ledger.Engine, *fakeClock) {
	clock := &fakeClock{t: epoch}
	return ledger.NewEngine(clock.Now), clock
}

func accountWithBalance(t *testing.T, e *ledger.Engine, balance string) *ledger.Account {
	acc := ledger.NewAccount("acc-1", epoch)
	if balance != "0" {
		_, err := e.Deposit(acc, balance)
		require.NoError(t, err)
	}
	return acc
}

// =============================================================================
// DEPOSIT
// =============================================================================

func TestDeposit_AddsToBalance(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")

	entry, err := e.Deposit(acc, "50.25")

	require.NoError(t, err)
	assert.Equal(t, "150.25", ledger.FormatAmount(acc.Balance))
	assert.Equal(t, ledger.EntryDeposit, entry.Type)
	assert.True(t, entry.Amount.Equal(dec("50.25")))
	assert.True(t, entry.BalanceAfter.Equal(acc.Balance))
	assert.Empty(t, acc.Investments, "deposit never creates an investment")
}

func TestDeposit_InvalidInput_LeavesBalanceUnchanged(t *testing.T) {
	inputs := []string{
		"", "   ", "invalid", "12abc", "NaN", "Infinity", "0", "0.00", "-5",
		"1e-20000000", "0.000000001", "1e20000000", "1e41",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			e, _ := newTestEngine()
			acc := accountWithBalance(t, e, "100")

			_, err := e.Deposit(acc, in)

			assert.True(t, ledger.IsValidation(err), "input %q should be a validation rejection, got %v", in, err)
			assert.Equal(t, "100.00", ledger.FormatAmount(acc.Balance))
		})
	}
}

func TestDeposit_NoCeiling(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "0")

	_, err := e.Deposit(acc, "999999999999999999.99")

	require.NoError(t, err)
	assert.Equal(t, "999999999999999999.99", ledger.FormatAmount(acc.Balance))
}

func TestParseDecimal_Scale(t *testing.T) {
	// GIVEN: Trailing zeros past the scale carry no value
	d, err := ledger.ParseDecimal("amount", "1.5000000000")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("1.5")))
	assert.GreaterOrEqual(t, d.Exponent(), int32(-ledger.MaxInputScale))

	d, err = ledger.ParseDecimal("amount", "0.00000001")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("0.00000001")))

	d, err = ledger.ParseDecimal("amount", "1e20")
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000.00", ledger.FormatAmount(d))

	var verr *ledger.ValidationError
	_, err = ledger.ParseDecimal("amount", "1e-20000000")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)
}

func TestDeposit_NilAccount_NotFound(t *testing.T) {
	e, _ := newTestEngine()

	_, err := e.Deposit(nil, "10")

	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// OPEN INVESTMENT
// =============================================================================

func TestOpenInvestment_DebitsBalanceAndAppends(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")

	inv, entry, err := e.OpenInvestment(acc, "50", "10")

	require.NoError(t, err)
	assert.Equal(t, "50.00", ledger.FormatAmount(acc.Balance))
	require.Len(t, acc.Investments, 1)
	assert.Equal(t, inv, acc.Investments[0])
	assert.Equal(t, ledger.StatusOpen, inv.Status)
	assert.True(t, inv.Amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, inv.ROIRate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, epoch, inv.CreatedAt)
	assert.NotEmpty(t, inv.ID)

	assert.Equal(t, ledger.EntryInvest, entry.Type)
	assert.Equal(t, inv.ID, entry.InvestmentID)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(-50)))
}

func TestOpenInvestment_WholeBalance_Allowed(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")

	_, _, err := e.OpenInvestment(acc, "100", "5")

	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
}

func TestOpenInvestment_IDsAreUniqueAndOrdered(t *testing.T) {
	e, clock := newTestEngine()
	acc := accountWithBalance(t, e, "300")

	first, _, err := e.OpenInvestment(acc, "100", "5")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, _, err := e.OpenInvestment(acc, "100", "5")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID, acc.Investments[0].ID)
	assert.Equal(t, second.ID, acc.Investments[1].ID)

	found, err := acc.Investment(second.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour), found.CreatedAt)
}

func TestOpenInvestment_Rejections_NoMutation(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		rate   string
	}{
		{"amount exceeds balance", "200", "5"},
		{"zero amount", "0", "5"},
		{"negative amount", "-10", "5"},
		{"unparseable amount", "abc", "5"},
		{"unparseable rate", "10", "ten"},
		{"missing rate", "10", ""},
		{"negative rate", "10", "-1"},
		{"amount too precise", "1e-20000000", "5"},
		{"amount too large", "1e20000000", "5"},
		{"rate too precise", "10", "1e-20000000"},
		{"rate too large", "10", "1e20000000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newTestEngine()
			acc := accountWithBalance(t, e, "100")

			_, _, err := e.OpenInvestment(acc, tc.amount, tc.rate)

			assert.True(t, ledger.IsValidation(err), "expected validation rejection, got %v", err)
			assert.Equal(t, "100.00", ledger.FormatAmount(acc.Balance))
			assert.Empty(t, acc.Investments)
		})
	}
}

func TestOpenInvestment_InsufficientBalance_Details(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")

	_, _, err := e.OpenInvestment(acc, "130", "5")

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.True(t, insufficient.Shortfall.Equal(decimal.NewFromInt(30)))
}

// =============================================================================
// UPDATE INVESTMENT
// =============================================================================

func TestUpdateInvestment_OverwritesTermsOnly(t *testing.T) {
	e, clock := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "50", "10")
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	updated, entry, err := e.UpdateInvestment(acc, inv.ID, "25", "20")

	require.NoError(t, err)
	assert.True(t, updated.Amount.Equal(decimal.NewFromInt(25)))
	assert.True(t, updated.ROIRate.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, ledger.StatusOpen, updated.Status)
	assert.Equal(t, inv.CreatedAt, updated.CreatedAt, "createdAt is immutable")
	assert.Equal(t, "50.00", ledger.FormatAmount(acc.Balance), "update never touches the balance")
	assert.Equal(t, updated, acc.Investments[0])
	assert.Equal(t, ledger.EntryUpdate, entry.Type)
	assert.True(t, entry.Amount.IsZero())
}

func TestUpdateInvestment_AboveBalance_NotRevalidated(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "50", "10")
	require.NoError(t, err)

	updated, _, err := e.UpdateInvestment(acc, inv.ID, "500", "10")

	require.NoError(t, err)
	assert.True(t, updated.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "50.00", ledger.FormatAmount(acc.Balance))
}

func TestUpdateInvestment_UnknownID_NotFound(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")

	_, _, err := e.UpdateInvestment(acc, "invalidId", "60", "6")

	assert.ErrorIs(t, err, ledger.ErrInvestmentNotFound)
	assert.True(t, ledger.IsNotFound(err))
	assert.False(t, ledger.IsValidation(err), "not found is distinct from validation")
}

func TestUpdateInvestment_InvalidInput_NoMutation(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "50", "10")
	require.NoError(t, err)

	_, _, err = e.UpdateInvestment(acc, inv.ID, "0", "20")
	assert.True(t, ledger.IsValidation(err))
	_, _, err = e.UpdateInvestment(acc, inv.ID, "25", "x")
	assert.True(t, ledger.IsValidation(err))

	assert.Equal(t, inv, acc.Investments[0])
}

func TestUpdateInvestment_Closed_Rejected(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "50", "10")
	require.NoError(t, err)
	_, _, err = e.CloseInvestment(acc, inv.ID, time.Time{})
	require.NoError(t, err)

	_, _, err = e.UpdateInvestment(acc, inv.ID, "25", "20")

	assert.ErrorIs(t, err, ledger.ErrInvestmentClosed)
	assert.True(t, acc.Investments[0].Amount.Equal(decimal.NewFromInt(50)))
}

// =============================================================================
// CLOSE INVESTMENT
// =============================================================================

func TestCloseInvestment_CreditsPrincipalPlusGain(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "1000")
	inv, _, err := e.OpenInvestment(acc, "1000", "20")
	require.NoError(t, err)

	s, entry, err := e.CloseInvestment(acc, inv.ID, epoch.AddDate(0, 0, 365))

	require.NoError(t, err)
	assert.Equal(t, "200.00", s.Accrual.Gain.StringFixed(2))
	assert.Equal(t, "1200.00", ledger.FormatAmount(s.Payout))
	assert.Equal(t, "1200.00", ledger.FormatAmount(acc.Balance))
	assert.Equal(t, ledger.StatusClosed, acc.Investments[0].Status)
	assert.True(t, acc.Investments[0].Amount.Equal(decimal.NewFromInt(1000)), "amount is not zeroed")
	assert.True(t, acc.Investments[0].ROIRate.Equal(decimal.NewFromInt(20)), "rate is not zeroed")
	require.NotNil(t, acc.Investments[0].ClosedAt)
	assert.Equal(t, ledger.EntryClose, entry.Type)
	assert.True(t, entry.Gain.Equal(s.Accrual.Gain))
}

func TestCloseInvestment_Prorated(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "500")
	inv, _, err := e.OpenInvestment(acc, "500", "12")
	require.NoError(t, err)

	s, _, err := e.CloseInvestment(acc, inv.ID, epoch.AddDate(0, 0, 31))

	require.NoError(t, err)
	assert.InDelta(t, 5.0959, s.Accrual.Gain.InexactFloat64(), 1e-4)
	assert.InDelta(t, 505.0959, acc.Balance.InexactFloat64(), 1e-4)
}

func TestCloseInvestment_ZeroNow_UsesEngineClock(t *testing.T) {
	e, clock := newTestEngine()
	acc := accountWithBalance(t, e, "365")
	inv, _, err := e.OpenInvestment(acc, "365", "100")
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)

	s, _, err := e.CloseInvestment(acc, inv.ID, time.Time{})

	require.NoError(t, err)
	assert.True(t, s.Accrual.Days.Equal(decimal.NewFromInt(10)))
	assert.True(t, s.Accrual.Gain.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, clock.Now(), s.ClosedAt)
}

func TestCloseInvestment_Immediately_ReturnsPrincipal(t *testing.T) {
	// Close is a right-inverse of open when no time has passed.
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "40", "15")
	require.NoError(t, err)

	_, _, err = e.CloseInvestment(acc, inv.ID, epoch)

	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(100)))
}

func TestCloseInvestment_Twice_NoDoubleCredit(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "50", "10")
	require.NoError(t, err)
	_, _, err = e.CloseInvestment(acc, inv.ID, epoch)
	require.NoError(t, err)

	_, _, err = e.CloseInvestment(acc, inv.ID, epoch.AddDate(1, 0, 0))

	assert.ErrorIs(t, err, ledger.ErrInvestmentClosed)
	assert.True(t, ledger.IsConflict(err))
	assert.Equal(t, "100.00", ledger.FormatAmount(acc.Balance))
}

func TestCloseInvestment_UnknownID_NotFound(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")

	_, _, err := e.CloseInvestment(acc, "invalidId", epoch)

	assert.ErrorIs(t, err, ledger.ErrInvestmentNotFound)
	assert.Equal(t, "100.00", ledger.FormatAmount(acc.Balance))
}

func TestCloseInvestment_ClockSkew_NeverBelowPrincipal(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "100", "10")
	require.NoError(t, err)

	_, _, err = e.CloseInvestment(acc, inv.ID, epoch.Add(-time.Hour))

	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(100)))
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestScenario_DepositInvestUpdateClose(t *testing.T) {
	// GIVEN: A fresh account
	e, clock := newTestEngine()
	acc := ledger.NewAccount("acc-e2e", epoch)
	assert.Equal(t, "0.00", ledger.FormatAmount(acc.Balance))

	// WHEN: Depositing 100
	_, err := e.Deposit(acc, "100")
	require.NoError(t, err)
	assert.Equal(t, "100.00", ledger.FormatAmount(acc.Balance))

	// AND: Investing 50 at 10%
	inv, _, err := e.OpenInvestment(acc, "50", "10")
	require.NoError(t, err)
	assert.Equal(t, "50.00", ledger.FormatAmount(acc.Balance))
	assert.Len(t, acc.OpenInvestments(), 1)

	// AND: Editing it to 25 at 20%
	_, _, err = e.UpdateInvestment(acc, inv.ID, "25", "20")
	require.NoError(t, err)
	assert.Equal(t, "50.00", ledger.FormatAmount(acc.Balance))

	// AND: Closing it a few seconds later
	clock.Advance(5 * time.Second)
	_, _, err = e.CloseInvestment(acc, inv.ID, time.Time{})
	require.NoError(t, err)

	// THEN: 50 + 25 + ~0 gain
	assert.Equal(t, "75.00", ledger.FormatAmount(acc.Balance))
	assert.Equal(t, ledger.StatusClosed, acc.Investments[0].Status)
	assert.Empty(t, acc.OpenInvestments())
}

// =============================================================================
// ACCOUNT HELPERS
// =============================================================================

func TestAccount_CloneIsDeep(t *testing.T) {
	e, _ := newTestEngine()
	acc := accountWithBalance(t, e, "100")
	inv, _, err := e.OpenInvestment(acc, "50", "10")
	require.NoError(t, err)
	_, _, err = e.CloseInvestment(acc, inv.ID, epoch)
	require.NoError(t, err)

	clone := acc.Clone()
	clone.Investments[0].Amount = decimal.NewFromInt(1)
	*clone.Investments[0].ClosedAt = epoch.AddDate(1, 0, 0)

	assert.True(t, acc.Investments[0].Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, epoch, *acc.Investments[0].ClosedAt)
}

func TestAccount_Validate(t *testing.T) {
	acc := ledger.NewAccount("acc-1", epoch)
	assert.NoError(t, acc.Validate())

	acc.Balance = decimal.NewFromInt(-1)
	assert.ErrorIs(t, acc.Validate(), ledger.ErrCorruptRecord)

	acc.Balance = decimal.Zero
	acc.Investments = []ledger.Investment{
		{ID: "a", Status: ledger.StatusOpen, CreatedAt: epoch},
		{ID: "a", Status: ledger.StatusOpen, CreatedAt: epoch},
	}
	assert.ErrorIs(t, acc.Validate(), ledger.ErrCorruptRecord)

	acc.Investments = []ledger.Investment{{ID: "a", Status: "pending", CreatedAt: epoch}}
	assert.ErrorIs(t, acc.Validate(), ledger.ErrCorruptRecord)
}

func TestInvestmentStatus_Label(t *testing.T) {
	assert.Equal(t, "Open", ledger.StatusOpen.Label())
	assert.Equal(t, "Closed", ledger.StatusClosed.Label())
}
