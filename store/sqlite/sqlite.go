/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the service on one database:
  accounts with their investments, the journal, users and sessions.

INTERFACES IMPLEMENTED:
  ledger.AccountStore: Versioned account load/save
  ledger.Journal:      Append-only entry log
  auth.Store:          Users and sessions

KEY TABLES:
  accounts:    One row per account (balance, version, schema_version)
  investments: One row per investment, ordered within an account by seq
  entries:     Immutable journal of committed operations
  users:       Credentials, one per account
  sessions:    Login tokens with expiry

ATOMIC SAVES:
  Save() runs in one SQL transaction: the versioned UPDATE of the account
  row, an upsert of every investment row, and the INSERT of the new
  entries. Nothing is visible unless all of it commits.

OPTIMISTIC VERSIONING:
  UPDATE accounts ... WHERE id = ? AND version = ?
  Zero rows affected means another writer saved first
  (ErrConcurrentModification) or the account is gone (ErrAccountNotFound).

VALIDATION AT LOAD:
  Rows are parsed into typed values and the Account is validated before it
  is returned. Unparseable decimals or timestamps, unknown statuses and
  unknown schema versions surface as ledger.ErrCorruptRecord.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to a
  single connection because each connection would otherwise see its own
  empty database.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  accounts := account.NewService(store, ledger.NewEngine(nil), 3)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Account interfaces
  - auth/types.go: User/session interface
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/capital-ledger/auth"
	"github.com/warp/capital-ledger/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.AccountStore = (*Store)(nil)
	_ ledger.Journal      = (*Store)(nil)
	_ auth.Store          = (*Store)(nil)
)

// Options tune the connection pool. Zero values keep database/sql defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, Options{})
}

// Open creates a store with explicit pool settings.
func Open(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		schema_version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Investments are never deleted individually; closing flips status.
	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		amount TEXT NOT NULL,
		roi_rate TEXT NOT NULL,
		status TEXT NOT NULL,
		payout TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		closed_at TEXT,
		UNIQUE(account_id, seq)
	);

	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		entry_type TEXT NOT NULL,
		investment_id TEXT,
		amount TEXT NOT NULL,
		gain TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency
		ON entries(account_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Users own exactly one account. No FK: an account deleted out of band
	-- must leave a dangling session the API can detect.
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires
		ON sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dsn appends the connection pragmas to dbPath, which may already carry
// its own query string ("file:ledger.db?cache=shared").
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Create inserts a new account row.
func (s *Store) Create(ctx context.Context, acc *ledger.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := insertAccount(ctx, sqlTx, acc); err != nil {
		return err
	}
	if err := upsertInvestments(ctx, sqlTx, acc); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit create", err)
	}
	return nil
}

func insertAccount(ctx context.Context, db execer, acc *ledger.Account) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, version, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, acc.ID, acc.Balance.String(), acc.Version, ledger.SchemaVersion, formatTime(acc.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("account %s already exists", acc.ID)
		}
		return storeErr("insert account", err)
	}
	return nil
}

// Load returns the account with its investments in creation order.
func (s *Store) Load(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadAccount(ctx, s.db, id)
}

func loadAccount(ctx context.Context, db queryer, id ledger.AccountID) (*ledger.Account, error) {
	var (
		balance       string
		version       int64
		schemaVersion int
		createdAt     string
	)
	err := db.QueryRowContext(ctx, `
		SELECT balance, version, schema_version, created_at
		FROM accounts WHERE id = ?
	`, id).Scan(&balance, &version, &schemaVersion, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, storeErr("load account", err)
	}
	if schemaVersion != ledger.SchemaVersion {
		return nil, fmt.Errorf("%w: account %s has schema version %d", ledger.ErrCorruptRecord, id, schemaVersion)
	}

	acc := &ledger.Account{ID: id, Version: version, Investments: []ledger.Investment{}}
	if acc.Balance, err = parseDecimal("balance", balance); err != nil {
		return nil, err
	}
	if acc.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}

	if acc.Investments, err = loadInvestments(ctx, db, id); err != nil {
		return nil, err
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}
	return acc, nil
}

func loadInvestments(ctx context.Context, db queryer, id ledger.AccountID) ([]ledger.Investment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, amount, roi_rate, status, payout, created_at, closed_at
		FROM investments
		WHERE account_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, storeErr("query investments", err)
	}
	defer rows.Close()

	investments := []ledger.Investment{}
	for rows.Next() {
		var (
			inv                      ledger.Investment
			amount, rate, payout, ca string
			status                   string
			closedAt                 sql.NullString
		)
		if err := rows.Scan(&inv.ID, &amount, &rate, &status, &payout, &ca, &closedAt); err != nil {
			return nil, storeErr("scan investment", err)
		}
		if inv.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		if inv.ROIRate, err = parseDecimal("roi_rate", rate); err != nil {
			return nil, err
		}
		if inv.Payout, err = parseDecimal("payout", payout); err != nil {
			return nil, err
		}
		if inv.CreatedAt, err = parseTime("created_at", ca); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t, err := parseTime("closed_at", closedAt.String)
			if err != nil {
				return nil, err
			}
			inv.ClosedAt = &t
		}
		inv.Status = ledger.InvestmentStatus(status)
		investments = append(investments, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate investments", err)
	}
	return investments, nil
}

// Save persists the account and appends entries atomically.
func (s *Store) Save(ctx context.Context, acc *ledger.Account, entries ...ledger.Entry) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, acc.Balance.String(), acc.ID, acc.Version)
	if err != nil {
		return storeErr("update account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update account", err)
	}
	if n == 0 {
		var count int
		if err := sqlTx.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE id = ?", acc.ID).Scan(&count); err != nil {
			return storeErr("check account", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, acc.ID)
		}
		return ledger.ErrConcurrentModification
	}

	if err := upsertInvestments(ctx, sqlTx, acc); err != nil {
		return err
	}
	for _, e := range entries {
		if err := appendEntry(ctx, sqlTx, e); err != nil {
			return err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	acc.Version++
	return nil
}

func upsertInvestments(ctx context.Context, db execer, acc *ledger.Account) error {
	for seq, inv := range acc.Investments {
		var closedAt sql.NullString
		if inv.ClosedAt != nil {
			closedAt = nullString(formatTime(*inv.ClosedAt))
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO investments
			(id, account_id, seq, amount, roi_rate, status, payout, created_at, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				amount = excluded.amount,
				roi_rate = excluded.roi_rate,
				status = excluded.status,
				payout = excluded.payout,
				closed_at = excluded.closed_at
		`,
			inv.ID, acc.ID, seq,
			inv.Amount.String(), inv.ROIRate.String(), string(inv.Status), inv.Payout.String(),
			formatTime(inv.CreatedAt), closedAt,
		)
		if err != nil {
			return storeErr("save investment", err)
		}
	}
	return nil
}

// Delete removes the account. Investments and entries cascade.
func (s *Store) Delete(ctx context.Context, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return storeErr("delete account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	return nil
}

// Accounts returns every account in insertion order.
func (s *Store) Accounts(ctx context.Context) ([]*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM accounts ORDER BY rowid ASC")
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	var ids []ledger.AccountID
	for rows.Next() {
		var id ledger.AccountID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storeErr("scan account id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate accounts", err)
	}

	accounts := make([]*ledger.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := loadAccount(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// =============================================================================
// JOURNAL (ledger.Journal interface)
// =============================================================================

func appendEntry(ctx context.Context, db execer, e ledger.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO entries
		(id, account_id, entry_type, investment_id, amount, gain, balance_after, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.AccountID, string(e.Type), nullString(string(e.InvestmentID)),
		e.Amount.String(), e.Gain.String(), e.BalanceAfter.String(),
		nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return storeErr("append entry", err)
	}
	return nil
}

// Entries returns the newest entries first. limit <= 0 means no limit.
func (s *Store) Entries(ctx context.Context, id ledger.AccountID, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, entry_type, investment_id, amount, gain, balance_after, idempotency_key, created_at
		FROM entries
		WHERE account_id = ?
		ORDER BY rowid DESC
	`
	args := []any{id}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query entries", err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e                         ledger.Entry
		entryType                 string
		investmentID, key         sql.NullString
		amount, gain, balance, at string
	)
	err := rows.Scan(&e.ID, &e.AccountID, &entryType, &investmentID, &amount, &gain, &balance, &key, &at)
	if err != nil {
		return e, storeErr("scan entry", err)
	}
	e.Type = ledger.EntryType(entryType)
	e.InvestmentID = ledger.InvestmentID(investmentID.String)
	e.IdempotencyKey = key.String
	if e.Amount, err = parseDecimal("amount", amount); err != nil {
		return e, err
	}
	if e.Gain, err = parseDecimal("gain", gain); err != nil {
		return e, err
	}
	if e.BalanceAfter, err = parseDecimal("balance_after", balance); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime("created_at", at); err != nil {
		return e, err
	}
	return e, nil
}

// HasEntry reports whether an entry with this idempotency key exists.
func (s *Store) HasEntry(ctx context.Context, id ledger.AccountID, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE account_id = ? AND idempotency_key = ?",
		id, idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, storeErr("check idempotency key", err)
	}
	return count > 0, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q", ledger.ErrCorruptRecord, column, value)
	}
	return t, nil
}

func parseDecimal(column, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", ledger.ErrCorruptRecord, column, value)
	}
	return d, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ledger.ErrStoreFailure, op, err)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
