/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Populates a database with a demo user whose ledger has realistic history,
  for demos and manual testing of the dashboard.

AVAILABLE SCENARIOS:
  new-saver:        One deposit, nothing invested
  steady-investor:  Two open investments opened months apart
  mixed-portfolio:  Closed and open investments plus a late deposit

HOW SCENARIOS WORK:
  1. Sign up a demo user (creates the empty account)
  2. Replay the scenario's operations through the account service with a
     clock set to each step's date, so accruals have real history
  3. Log the demo session out; the user logs in with the given password

NOTE:
  Scenarios never reset the database. Seeding the same email twice fails
  with "Email already exists".

SEE ALSO:
  - commands.go: seed command
  - account/service.go: Operations replayed here
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/subcommands"
	"github.com/warp/capital-ledger/account"
	"github.com/warp/capital-ledger/auth"
	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/store/sqlite"
)

// Scenario describes a demo dataset.
type Scenario struct {
	ID          string
	Name        string
	Description string
	load        func(ctx context.Context, s *seeder) error
}

var scenarios = []Scenario{
	{
		ID:          "new-saver",
		Name:        "New Saver",
		Description: "A single deposit, nothing invested yet",
		load: func(ctx context.Context, s *seeder) error {
			return s.on(0).deposit(ctx, "500")
		},
	},
	{
		ID:          "steady-investor",
		Name:        "Steady Investor",
		Description: "Two open investments accruing since last year",
		load: func(ctx context.Context, s *seeder) error {
			return firstErr(
				s.on(400).deposit(ctx, "10000"),
				s.on(400).invest(ctx, "5000", "7"),
				s.on(200).invest(ctx, "2000", "12"),
			)
		},
	},
	{
		ID:          "mixed-portfolio",
		Name:        "Mixed Portfolio",
		Description: "A settled investment, an open one and a recent deposit",
		load: func(ctx context.Context, s *seeder) error {
			return firstErr(
				s.on(730).deposit(ctx, "20000"),
				s.on(730).invest(ctx, "8000", "5"),
				s.on(365).invest(ctx, "4000", "15"),
				s.on(180).close(ctx, 0),
				s.on(30).deposit(ctx, "1500"),
			)
		},
	},
}

func findScenario(id string) (Scenario, bool) {
	for _, sc := range scenarios {
		if sc.ID == id {
			return sc, true
		}
	}
	return Scenario{}, false
}

// firstErr returns the first non-nil error. Steps after a failure are no-ops
// because the seeder stops once it has failed.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder replays operations on one account at chosen past instants.
type seeder struct {
	mu       sync.Mutex
	now      time.Time
	at       time.Time
	accounts *account.Service
	id       ledger.AccountID
	invs     []ledger.InvestmentID
	err      error
}

func newSeeder(store account.Store, id ledger.AccountID, now time.Time) *seeder {
	s := &seeder{now: now, at: now, id: id}
	s.accounts = account.NewService(store, ledger.NewEngine(s.clock), account.DefaultMaxRetries)
	return s
}

func (s *seeder) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at
}

// on moves the clock to daysAgo days before now.
func (s *seeder) on(daysAgo int) *seeder {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at = s.now.AddDate(0, 0, -daysAgo)
	return s
}

func (s *seeder) deposit(ctx context.Context, amount string) error {
	if s.err != nil {
		return s.err
	}
	_, _, s.err = s.accounts.Deposit(ctx, s.id, amount, "")
	return s.err
}

func (s *seeder) invest(ctx context.Context, amount, rate string) error {
	if s.err != nil {
		return s.err
	}
	var inv ledger.Investment
	_, inv, s.err = s.accounts.OpenInvestment(ctx, s.id, amount, rate, "")
	if s.err == nil {
		s.invs = append(s.invs, inv.ID)
	}
	return s.err
}

// close settles the i-th investment opened by this seeder.
func (s *seeder) close(ctx context.Context, i int) error {
	if s.err != nil {
		return s.err
	}
	if i >= len(s.invs) {
		s.err = fmt.Errorf("scenario closes investment %d, only %d opened", i, len(s.invs))
		return s.err
	}
	_, _, s.err = s.accounts.CloseInvestment(ctx, s.id, s.invs[i], "")
	return s.err
}

// loadScenario signs up a demo user and replays the scenario on its account.
func loadScenario(ctx context.Context, store *sqlite.Store, authSvc *auth.Service, sc Scenario, email, password string, now time.Time) (auth.User, error) {
	user, sess, err := authSvc.Signup(ctx, auth.SignupInput{
		FirstName:       "Demo",
		LastName:        sc.Name,
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	})
	if err != nil {
		return auth.User{}, fmt.Errorf("sign up demo user: %w", err)
	}
	if err := authSvc.Logout(ctx, sess.Token); err != nil {
		return auth.User{}, err
	}

	if err := sc.load(ctx, newSeeder(store, user.AccountID, now)); err != nil {
		return auth.User{}, fmt.Errorf("load scenario %s: %w", sc.ID, err)
	}
	return user, nil
}

// =============================================================================
// SEED COMMAND
// =============================================================================

type seedCmd struct {
	scenario string
	email    string
	password string
	list     bool
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "create a demo user with a scenario's history" }
func (*seedCmd) Usage() string {
	return `ledgerctl seed -scenario <id> -email <email> [-password <password>]
ledgerctl seed -list

  Signs up a demo user and replays a scenario's deposits and investments
  at past dates so the dashboard shows accrued ROI.
`
}

func (c *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scenario, "scenario", "", "Scenario ID (see -list).")
	f.StringVar(&c.email, "email", "", "Email of the demo user.")
	f.StringVar(&c.password, "password", "demo1234", "Password of the demo user.")
	f.BoolVar(&c.list, "list", false, "List available scenarios.")
}

func (c *seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.list {
		for _, sc := range scenarios {
			fmt.Printf("%-16s %s\n", sc.ID, sc.Description)
		}
		return subcommands.ExitSuccess
	}
	sc, ok := findScenario(c.scenario)
	if !ok {
		return fail(fmt.Errorf("unknown scenario %q, use -list", c.scenario))
	}
	if c.email == "" {
		return fail(fmt.Errorf("-email is required"))
	}

	e, err := openEnv()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	authSvc := auth.NewService(e.store, e.cfg.Session.TTL)
	user, err := loadScenario(ctx, e.store, authSvc, sc, c.email, c.password, time.Now())
	if err != nil {
		return fail(err)
	}

	fmt.Fprintf(os.Stdout, "Seeded %q for %s (account %s)\n", sc.ID, user.Email, user.AccountID)
	return subcommands.ExitSuccess
}
