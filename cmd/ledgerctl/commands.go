package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"github.com/warp/capital-ledger/account"
	"github.com/warp/capital-ledger/config"
	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/logging"
	"github.com/warp/capital-ledger/store/sqlite"
)

// =============================================================================
// ENVIRONMENT
// =============================================================================

// env is what every command needs: the configured store and services.
type env struct {
	cfg      *config.Config
	store    *sqlite.Store
	accounts *account.Service
	close    func()
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	_, syncLogger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.Database.Path, sqlite.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		syncLogger()
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
	}

	return &env{
		cfg:      cfg,
		store:    store,
		accounts: account.NewService(store, ledger.NewEngine(nil), cfg.Ledger.MaxRetries),
		close: func() {
			store.Close()
			syncLogger()
		},
	}, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

// parseDate accepts RFC 3339 timestamps and plain dates (midnight UTC).
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type accountsCmd struct{}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list every account with its balance" }
func (*accountsCmd) Usage() string {
	return `ledgerctl accounts

  Lists all accounts in creation order with cash balance, invested
  principal and the number of open investments.
`
}
func (*accountsCmd) SetFlags(*flag.FlagSet) {}

func (c *accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	if err := listAccounts(ctx, os.Stdout, e.store, e.cfg.Ledger.Currency); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// accountLister is satisfied by both the SQLite and in-memory stores.
type accountLister interface {
	Accounts(ctx context.Context) ([]*ledger.Account, error)
}

func listAccounts(ctx context.Context, w io.Writer, l accountLister, currency string) error {
	accounts, err := l.Accounts(ctx)
	if err != nil {
		return err
	}
	printAccounts(w, accounts, currency)
	return nil
}

func printAccounts(w io.Writer, accounts []*ledger.Account, currency string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tBALANCE\tINVESTED\tOPEN\tVERSION\t")
	for _, acc := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t\n",
			acc.ID,
			ledger.FormatMoney(acc.Balance, currency),
			ledger.FormatMoney(acc.Invested(), currency),
			len(acc.OpenInvestments()),
			acc.Version)
	}
	tw.Flush()
}

// =============================================================================
// STATEMENT
// =============================================================================

type statementCmd struct {
	accountID string
	limit     int
}

func (*statementCmd) Name() string     { return "statement" }
func (*statementCmd) Synopsis() string { return "show an account's investments and journal" }
func (*statementCmd) Usage() string {
	return `ledgerctl statement -account <id> [-n <entries>]

  Prints the balance, every investment with its status or payout, and the
  most recent journal entries, newest first.
`
}

func (c *statementCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.accountID, "account", "", "Account ID.")
	f.IntVar(&c.limit, "n", 20, "Number of journal entries to show (0 for all).")
}

func (c *statementCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.accountID == "" {
		return fail(fmt.Errorf("-account is required"))
	}
	e, err := openEnv()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	id := ledger.AccountID(c.accountID)
	acc, err := e.accounts.Get(ctx, id)
	if err != nil {
		return fail(err)
	}
	entries, err := e.accounts.Entries(ctx, id, c.limit)
	if err != nil {
		return fail(err)
	}
	printStatement(os.Stdout, acc, entries, e.accounts.Engine().Now(), e.cfg.Ledger.Currency)
	return subcommands.ExitSuccess
}

func printStatement(w io.Writer, acc *ledger.Account, entries []ledger.Entry, now time.Time, currency string) {
	fmt.Fprintf(w, "Account %s (v%d)\n", acc.ID, acc.Version)
	fmt.Fprintf(w, "Balance: %s\n\n", ledger.FormatMoney(acc.Balance, currency))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INVESTMENT\tAMOUNT\tRATE\tSTATUS\tOPENED\tRESULT\t")
	for _, inv := range acc.Investments {
		result := ledger.ROIStatement(ledger.AccrueInvestment(inv, now), currency)
		if !inv.IsOpen() {
			result = "Paid " + ledger.FormatMoney(inv.Payout, currency)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s\t%s\t%s\t\n",
			inv.ID,
			ledger.FormatMoney(inv.Amount, currency),
			inv.ROIRate,
			inv.Status.Label(),
			inv.CreatedAt.Format(time.DateOnly),
			result)
	}
	tw.Flush()

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tTYPE\tAMOUNT\tGAIN\tBALANCE\tKEY\t")
	for _, en := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			en.CreatedAt.Format(time.DateTime),
			strings.ToUpper(string(en.Type)),
			ledger.FormatAmount(en.Amount),
			ledger.FormatAmount(en.Gain),
			ledger.FormatAmount(en.BalanceAfter),
			en.IdempotencyKey)
	}
	tw.Flush()
}

// =============================================================================
// ACCRUE
// =============================================================================

type accrueCmd struct {
	accountID string
	at        string
}

func (*accrueCmd) Name() string     { return "accrue" }
func (*accrueCmd) Synopsis() string { return "preview accrued ROI of open investments" }
func (*accrueCmd) Usage() string {
	return `ledgerctl accrue -account <id> [-at <date>]

  Computes what closing every open investment at the given instant would
  earn. Nothing is written.
`
}

func (c *accrueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.accountID, "account", "", "Account ID.")
	f.StringVar(&c.at, "at", "", "Instant to accrue to, YYYY-MM-DD or RFC 3339 (default: now).")
}

func (c *accrueCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.accountID == "" {
		return fail(fmt.Errorf("-account is required"))
	}
	var at time.Time
	if c.at != "" {
		t, err := parseDate(c.at)
		if err != nil {
			return fail(err)
		}
		at = t
	}

	e, err := openEnv()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	preview, err := e.accounts.Preview(ctx, ledger.AccountID(c.accountID), at)
	if err != nil {
		return fail(err)
	}
	printPreview(os.Stdout, preview, e.cfg.Ledger.Currency)
	return subcommands.ExitSuccess
}

func printPreview(w io.Writer, p *account.Preview, currency string) {
	fmt.Fprintf(w, "As of %s\n", p.At.Format(time.RFC3339))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INVESTMENT\tPRINCIPAL\tRATE\tDAYS\tGAIN\t")
	for _, ia := range p.Investments {
		if !ia.Investment.IsOpen() {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s\t%s\t\n",
			ia.Investment.ID,
			ledger.FormatMoney(ia.Investment.Amount, currency),
			ia.Investment.ROIRate,
			ia.Accrual.Days.StringFixed(2),
			ledger.FormatMoney(ia.Accrual.Gain, currency))
	}
	tw.Flush()
	fmt.Fprintln(w, ledger.ROIStatement(ledger.Accrual{Gain: p.TotalGain}, currency))
}

// =============================================================================
// DEPOSIT
// =============================================================================

type depositCmd struct {
	accountID string
	amount    string
	key       string
}

func (*depositCmd) Name() string     { return "deposit" }
func (*depositCmd) Synopsis() string { return "credit cash to an account" }
func (*depositCmd) Usage() string {
	return `ledgerctl deposit -account <id> -amount <amount> [-key <idempotency-key>]

  Credits cash exactly like POST /api/account/deposit. Re-running with the
  same -key is rejected, so a retried script cannot credit twice.
`
}

func (c *depositCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.accountID, "account", "", "Account ID.")
	f.StringVar(&c.amount, "amount", "", "Amount to credit, e.g. 100.50.")
	f.StringVar(&c.key, "key", "", "Idempotency key recorded with the journal entry.")
}

func (c *depositCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.accountID == "" || c.amount == "" {
		return fail(fmt.Errorf("-account and -amount are required"))
	}
	e, err := openEnv()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	acc, entry, err := e.accounts.Deposit(ctx, ledger.AccountID(c.accountID), c.amount, c.key)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Deposited %s. Balance: %s (entry %s)\n",
		ledger.FormatMoney(entry.Amount, e.cfg.Ledger.Currency),
		ledger.FormatMoney(acc.Balance, e.cfg.Ledger.Currency),
		entry.ID)
	return subcommands.ExitSuccess
}
