/*
Package auth owns users and login sessions.

PURPOSE:
  Every ledger account belongs to exactly one user. A user signs up with a
  name, an email and a password, and gets an account with a zero balance in
  the same store write. Logging in issues an opaque session token that the
  HTTP layer carries in a cookie; Authenticate turns that token back into
  the account it may operate on.

KEY TYPES:
  - User: Credentials and display name, linked to one AccountID
  - Session: Random token with an expiry
  - Store: Persistence for both (implemented by store/sqlite)

PASSWORDS:
  Stored as bcrypt hashes only. The rule is at least 8 characters, letters
  and digits only, with at least one of each.

SEE ALSO:
  - service.go: Signup, Login, Logout, Authenticate
  - api/handlers.go: Cookie handling and the session middleware
*/
package auth

import (
	"context"
	"time"

	"github.com/warp/capital-ledger/ledger"
)

type UserID string

// User is a registered account holder.
type User struct {
	ID           UserID
	AccountID    ledger.AccountID
	FirstName    string
	LastName     string
	Email        string // trimmed and lowercased
	PasswordHash []byte
	CreatedAt    time.Time
}

// Name is the display name shown on the dashboard.
func (u User) Name() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Session binds an opaque token to a user until ExpiresAt.
type Session struct {
	Token     string
	UserID    UserID
	AccountID ledger.AccountID
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists users and sessions.
type Store interface {
	// CreateUser persists the user and its fresh account in one write.
	// Returns ErrEmailTaken if the email is already registered.
	CreateUser(ctx context.Context, u User, acc *ledger.Account) error

	// UserByEmail and UserByID return ErrUserNotFound when absent.
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id UserID) (User, error)

	// DeleteUser removes the user and all of its sessions.
	DeleteUser(ctx context.Context, id UserID) error

	SaveSession(ctx context.Context, s Session) error

	// Session returns ErrSessionNotFound for unknown tokens.
	Session(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error

	// DeleteExpiredSessions purges sessions expired at now and reports how many.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
