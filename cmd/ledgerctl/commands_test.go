package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/capital-ledger/account"
	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/ledger/store"
)

func TestParseDate(t *testing.T) {
	d, err := parseDate("2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDate("2026-01-01T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, d.Hour())

	_, err = parseDate("01/01/2026")
	assert.Error(t, err)
}

func fixtureAccount(t *testing.T) (*ledger.Account, time.Time) {
	t.Helper()
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := start
	engine := ledger.NewEngine(func() time.Time { return now })

	acc := ledger.NewAccount("acc-1", start)
	_, err := engine.Deposit(acc, "2000")
	require.NoError(t, err)
	_, _, err = engine.OpenInvestment(acc, "1000", "20")
	require.NoError(t, err)
	closed, _, err := engine.OpenInvestment(acc, "500", "10")
	require.NoError(t, err)

	now = start.AddDate(1, 0, 0)
	_, _, err = engine.CloseInvestment(acc, closed.ID, now)
	require.NoError(t, err)
	return acc, now
}

func TestPrintAccounts(t *testing.T) {
	acc, _ := fixtureAccount(t)
	var buf bytes.Buffer

	printAccounts(&buf, []*ledger.Account{acc}, "USD")

	out := buf.String()
	assert.Contains(t, out, "acc-1")
	assert.Contains(t, out, "$1,050.00", "balance after the 10% payout")
	assert.Contains(t, out, "$1,000.00", "still invested")
}

func TestListAccounts_CreationOrder(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	// GIVEN: Two accounts, the later one created first
	acc, _ := fixtureAccount(t)
	older := ledger.NewAccount("acc-0", acc.CreatedAt.Add(-time.Hour))
	require.NoError(t, mem.Create(ctx, acc))
	require.NoError(t, mem.Create(ctx, older))

	// WHEN: Listing through the store
	var buf bytes.Buffer
	require.NoError(t, listAccounts(ctx, &buf, mem, "USD"))

	// THEN: Rows follow creation order under the header
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "BALANCE")
	assert.Contains(t, lines[1], "acc-0")
	assert.Contains(t, lines[2], "acc-1")
	assert.Contains(t, lines[2], "$1,050.00")
}

func TestPrintStatement(t *testing.T) {
	acc, now := fixtureAccount(t)
	entries := []ledger.Entry{{Type: ledger.EntryDeposit, Amount: acc.Balance, BalanceAfter: acc.Balance, CreatedAt: now}}
	var buf bytes.Buffer

	printStatement(&buf, acc, entries, now, "USD")

	out := buf.String()
	assert.Contains(t, out, "Balance: $1,050.00")
	assert.Contains(t, out, "Accrued ROI: $200.00")
	assert.Contains(t, out, "Paid $550.00")
	assert.Contains(t, out, "DEPOSIT")
}

func TestPrintPreview(t *testing.T) {
	acc, now := fixtureAccount(t)
	inv := acc.Investments[0]
	p := &account.Preview{
		Account: acc,
		At:      now,
		Investments: []account.InvestmentAccrual{
			{Investment: inv, Accrual: ledger.AccrueInvestment(inv, now)},
			{Investment: acc.Investments[1]},
		},
		TotalGain: ledger.AccrueInvestment(inv, now).Gain,
	}
	var buf bytes.Buffer

	printPreview(&buf, p, "USD")

	out := buf.String()
	assert.Contains(t, out, string(inv.ID))
	assert.NotContains(t, out, string(acc.Investments[1].ID), "closed investments accrue nothing")
	assert.Contains(t, out, "365.00")
	assert.Contains(t, out, "Accrued ROI: $200.00")
}
