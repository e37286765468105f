package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/capital-ledger/auth"
	"github.com/warp/capital-ledger/ledger"
)

// =============================================================================
// USER STORE (auth.Store interface)
// =============================================================================

// CreateUser inserts the user and its account in one transaction.
func (s *Store) CreateUser(ctx context.Context, u auth.User, acc *ledger.Account) error {
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

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO users (id, account_id, first_name, last_name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.AccountID, u.FirstName, u.LastName, u.Email, u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return auth.ErrEmailTaken
		}
		return storeErr("insert user", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

const userColumns = "id, account_id, first_name, last_name, email, password_hash, created_at"

// UserByEmail looks a user up by normalized email.
func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	return scanUser(row)
}

func (s *Store) UserByID(ctx context.Context, id auth.UserID) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (auth.User, error) {
	var (
		u         auth.User
		createdAt string
	)
	err := row.Scan(&u.ID, &u.AccountID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, storeErr("scan user", err)
	}
	if u.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// DeleteUser removes the user. Sessions cascade.
func (s *Store) DeleteUser(ctx context.Context, id auth.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return storeErr("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// SESSION STORE
// =============================================================================

func (s *Store) SaveSession(ctx context.Context, sess auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, account_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.Token, sess.UserID, sess.AccountID, formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt))
	if err != nil {
		return storeErr("insert session", err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, token string) (auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sess                 auth.Session
		createdAt, expiresAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, account_id, created_at, expires_at
		FROM sessions WHERE token = ?
	`, token).Scan(&sess.Token, &sess.UserID, &sess.AccountID, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return auth.Session{}, auth.ErrSessionNotFound
	}
	if err != nil {
		return auth.Session{}, storeErr("load session", err)
	}
	if sess.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return auth.Session{}, err
	}
	if sess.ExpiresAt, err = parseTime("expires_at", expiresAt); err != nil {
		return auth.Session{}, err
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session with expires_at <= now.
// RFC3339Nano UTC strings do not sort lexically when fractional seconds
// differ in length, so expiry is compared after parsing.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT token, expires_at FROM sessions")
	if err != nil {
		return 0, storeErr("list sessions", err)
	}
	var expired []string
	for rows.Next() {
		var token, expiresAt string
		if err := rows.Scan(&token, &expiresAt); err != nil {
			rows.Close()
			return 0, storeErr("scan session", err)
		}
		t, err := parseTime("expires_at", expiresAt)
		if err != nil || !now.Before(t) {
			expired = append(expired, token)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storeErr("iterate sessions", err)
	}

	var deleted int64
	for _, token := range expired {
		res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
		if err != nil {
			return deleted, fmt.Errorf("delete expired session: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}
