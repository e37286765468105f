package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/capital-ledger/auth"
	"github.com/warp/capital-ledger/ledger"
)

var t0 = time.Date(2025, time.April, 2, 10, 30, 0, 123456789, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createAccount(t *testing.T, s *Store, id ledger.AccountID) *ledger.Account {
	t.Helper()
	acc := ledger.NewAccount(id, t0)
	require.NoError(t, s.Create(context.Background(), acc))
	return acc
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestStore_RoundTripsAccountWithInvestments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")

	acc, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	closedAt := t0.Add(72 * time.Hour)
	acc.Balance = decimal.RequireFromString("1234.5678")
	acc.Investments = append(acc.Investments,
		ledger.Investment{ID: "inv-a", Amount: decimal.NewFromInt(50), ROIRate: decimal.RequireFromString("7.25"), CreatedAt: t0, Status: ledger.StatusOpen},
		ledger.Investment{ID: "inv-b", Amount: decimal.NewFromInt(20), ROIRate: decimal.NewFromInt(10), CreatedAt: t0.Add(time.Hour), Status: ledger.StatusClosed, ClosedAt: &closedAt, Payout: decimal.RequireFromString("20.01")},
	)
	require.NoError(t, s.Save(ctx, acc))

	loaded, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.True(t, loaded.Balance.Equal(decimal.RequireFromString("1234.5678")))
	assert.True(t, loaded.CreatedAt.Equal(t0), "nanosecond timestamps survive")
	require.Len(t, loaded.Investments, 2)
	assert.Equal(t, ledger.InvestmentID("inv-a"), loaded.Investments[0].ID)
	assert.True(t, loaded.Investments[0].ROIRate.Equal(decimal.RequireFromString("7.25")))
	assert.Nil(t, loaded.Investments[0].ClosedAt)
	assert.Equal(t, ledger.StatusClosed, loaded.Investments[1].Status)
	require.NotNil(t, loaded.Investments[1].ClosedAt)
	assert.True(t, loaded.Investments[1].ClosedAt.Equal(closedAt))
	assert.True(t, loaded.Investments[1].Payout.Equal(decimal.RequireFromString("20.01")))
}

func TestStore_Save_UpdatesExistingInvestment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")
	acc, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	acc.Investments = append(acc.Investments, ledger.Investment{ID: "inv-a", Amount: decimal.NewFromInt(50), ROIRate: decimal.NewFromInt(10), CreatedAt: t0, Status: ledger.StatusOpen})
	require.NoError(t, s.Save(ctx, acc))

	acc.Investments[0].Amount = decimal.NewFromInt(25)
	acc.Investments[0].ROIRate = decimal.NewFromInt(20)
	require.NoError(t, s.Save(ctx, acc))

	loaded, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, loaded.Investments, 1)
	assert.True(t, loaded.Investments[0].Amount.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, int64(2), loaded.Version)
}

func TestStore_Save_StaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")
	a, _ := s.Load(ctx, "acc-1")
	b, _ := s.Load(ctx, "acc-1")

	a.Balance = decimal.NewFromInt(10)
	require.NoError(t, s.Save(ctx, a))
	b.Balance = decimal.NewFromInt(99)
	err := s.Save(ctx, b)

	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	loaded, _ := s.Load(ctx, "acc-1")
	assert.True(t, loaded.Balance.Equal(decimal.NewFromInt(10)))
}

func TestStore_Save_MissingAccount(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(context.Background(), ledger.NewAccount("ghost", t0))

	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStore_Create_CommitFailureIsStoreFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: Every new account row leaves a deferred foreign key violation
	// that only surfaces at COMMIT
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE parents (id TEXT PRIMARY KEY);
		CREATE TABLE children (parent_id TEXT REFERENCES parents(id) DEFERRABLE INITIALLY DEFERRED);
		CREATE TRIGGER orphan_child AFTER INSERT ON accounts BEGIN
			INSERT INTO children (parent_id) VALUES (NEW.id);
		END;
	`)
	require.NoError(t, err)

	// WHEN: Creating an account
	err = s.Create(ctx, ledger.NewAccount("acc-1", t0))

	// THEN: The failed commit is reported as a store failure and nothing persists
	assert.ErrorIs(t, err, ledger.ErrStoreFailure)
	_, err = s.Load(ctx, "acc-1")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStore_Load_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "ghost")

	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStore_Load_CorruptRows(t *testing.T) {
	cases := map[string]string{
		"bad balance":      "UPDATE accounts SET balance = 'lots' WHERE id = 'acc-1'",
		"negative balance": "UPDATE accounts SET balance = '-5' WHERE id = 'acc-1'",
		"bad timestamp":    "UPDATE accounts SET created_at = 'yesterday' WHERE id = 'acc-1'",
		"future schema":    "UPDATE accounts SET schema_version = 99 WHERE id = 'acc-1'",
		"unknown status": `INSERT INTO investments (id, account_id, seq, amount, roi_rate, status, created_at)
			VALUES ('inv-x', 'acc-1', 0, '10', '5', 'pending', '2025-01-01T00:00:00Z')`,
	}

	for name, stmt := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			createAccount(t, s, "acc-1")
			_, err := s.db.Exec(stmt)
			require.NoError(t, err)

			_, err = s.Load(context.Background(), "acc-1")

			assert.ErrorIs(t, err, ledger.ErrCorruptRecord)
		})
	}
}

func TestStore_Delete_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")
	acc, _ := s.Load(ctx, "acc-1")
	acc.Investments = append(acc.Investments, ledger.Investment{ID: "inv-a", Amount: decimal.NewFromInt(1), ROIRate: decimal.NewFromInt(1), CreatedAt: t0, Status: ledger.StatusOpen})
	require.NoError(t, s.Save(ctx, acc, ledger.Entry{ID: "e1", AccountID: "acc-1", Type: ledger.EntryInvest, CreatedAt: t0}))

	require.NoError(t, s.Delete(ctx, "acc-1"))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM investments").Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n))
	assert.Zero(t, n)
	assert.ErrorIs(t, s.Delete(ctx, "acc-1"), ledger.ErrAccountNotFound)
}

func TestStore_Accounts_InsertionOrder(t *testing.T) {
	s := newTestStore(t)
	createAccount(t, s, "b")
	createAccount(t, s, "a")

	accounts, err := s.Accounts(context.Background())

	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, ledger.AccountID("b"), accounts[0].ID)
	assert.Equal(t, ledger.AccountID("a"), accounts[1].ID)
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestStore_Entries_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")
	acc, _ := s.Load(ctx, "acc-1")

	for i, id := range []ledger.EntryID{"e1", "e2", "e3"} {
		acc.Balance = decimal.NewFromInt(int64(i + 1))
		require.NoError(t, s.Save(ctx, acc, ledger.Entry{
			ID: id, AccountID: "acc-1", Type: ledger.EntryDeposit,
			Amount: decimal.NewFromInt(1), Gain: decimal.Zero, BalanceAfter: acc.Balance, CreatedAt: t0,
		}))
	}

	all, err := s.Entries(ctx, "acc-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.EntryID("e3"), all[0].ID)
	assert.True(t, all[0].BalanceAfter.Equal(decimal.NewFromInt(3)))
	assert.Empty(t, all[0].InvestmentID)

	limited, err := s.Entries(ctx, "acc-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ledger.EntryID("e3"), limited[0].ID)
}

func TestStore_DuplicateIdempotencyKey_RollsBackSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")
	acc, _ := s.Load(ctx, "acc-1")
	acc.Balance = decimal.NewFromInt(100)
	require.NoError(t, s.Save(ctx, acc, ledger.Entry{ID: "e1", AccountID: "acc-1", Type: ledger.EntryDeposit, IdempotencyKey: "k1", CreatedAt: t0}))

	acc.Balance = decimal.NewFromInt(200)
	err := s.Save(ctx, acc, ledger.Entry{ID: "e2", AccountID: "acc-1", Type: ledger.EntryDeposit, IdempotencyKey: "k1", CreatedAt: t0})

	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	loaded, _ := s.Load(ctx, "acc-1")
	assert.True(t, loaded.Balance.Equal(decimal.NewFromInt(100)), "the account update is rolled back with the entry")
	assert.Equal(t, int64(1), loaded.Version)

	has, err := s.HasEntry(ctx, "acc-1", "k1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasEntry(ctx, "acc-1", "k2")
	require.NoError(t, err)
	assert.False(t, has)
}

// =============================================================================
// USERS AND SESSIONS
// =============================================================================

// =============================================================================
// CONNECTION STRING
// =============================================================================

func TestDSN(t *testing.T) {
	const pragmas = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

	assert.Equal(t, "ledger.db?"+pragmas, dsn("ledger.db"))
	assert.Equal(t, ":memory:?"+pragmas, dsn(":memory:"))
	assert.Equal(t, "file:ledger.db?cache=shared&"+pragmas, dsn("file:ledger.db?cache=shared"))
}

func TestOpen_PathWithQueryString(t *testing.T) {
	ctx := context.Background()
	path := "file:" + filepath.Join(t.TempDir(), "ledger.db") + "?cache=shared"

	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Create(ctx, ledger.NewAccount("acc-1", t0)))
	_, err = s.Load(ctx, "acc-1")
	assert.NoError(t, err)

	// THEN: The pragmas were applied, not swallowed into the cache parameter
	var fk int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func testUser(id, email string) auth.User {
	return auth.User{
		ID:           auth.UserID(id),
		AccountID:    ledger.AccountID("acc-" + id),
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        email,
		PasswordHash: []byte("hash"),
		CreatedAt:    t0,
	}
}

func TestStore_CreateUser_WithAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := testUser("u1", "ada@example.com")

	require.NoError(t, s.CreateUser(ctx, u, ledger.NewAccount(u.AccountID, t0)))

	byEmail, err := s.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, []byte("hash"), byEmail.PasswordHash)
	byID, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u.AccountID, byID.AccountID)

	acc, err := s.Load(ctx, u.AccountID)
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
}

func TestStore_CreateUser_DuplicateEmail_NoOrphanAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := testUser("u1", "ada@example.com")
	require.NoError(t, s.CreateUser(ctx, first, ledger.NewAccount(first.AccountID, t0)))

	second := testUser("u2", "ada@example.com")
	err := s.CreateUser(ctx, second, ledger.NewAccount(second.AccountID, t0))

	assert.ErrorIs(t, err, auth.ErrEmailTaken)
	_, err = s.Load(ctx, second.AccountID)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStore_UserLookups_Missing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
	_, err = s.UserByID(ctx, "nobody")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestStore_Sessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := testUser("u1", "ada@example.com")
	require.NoError(t, s.CreateUser(ctx, u, ledger.NewAccount(u.AccountID, t0)))

	live := auth.Session{Token: "live", UserID: u.ID, AccountID: u.AccountID, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	stale := auth.Session{Token: "stale", UserID: u.ID, AccountID: u.AccountID, CreatedAt: t0, ExpiresAt: t0.Add(time.Minute)}
	require.NoError(t, s.SaveSession(ctx, live))
	require.NoError(t, s.SaveSession(ctx, stale))

	got, err := s.Session(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, u.AccountID, got.AccountID)
	assert.True(t, got.ExpiresAt.Equal(live.ExpiresAt))

	n, err := s.DeleteExpiredSessions(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.Session(ctx, "stale")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	require.NoError(t, s.DeleteSession(ctx, "live"))
	_, err = s.Session(ctx, "live")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestStore_DeleteUser_DropsSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := testUser("u1", "ada@example.com")
	require.NoError(t, s.CreateUser(ctx, u, ledger.NewAccount(u.AccountID, t0)))
	require.NoError(t, s.SaveSession(ctx, auth.Session{Token: "tok", UserID: u.ID, AccountID: u.AccountID, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}))

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	_, err := s.Session(ctx, "tok")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), auth.ErrUserNotFound)
}
