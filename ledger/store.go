/*
store.go - Persistence interfaces for accounts and their journal

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never sees a Store; the account service loads an Account, runs one
  operation and saves the result together with its journal entries.

KEY INTERFACES:
  AccountStore: Load / Save / Create / Delete whole accounts
  Journal:      Read side of the append-only entry log

ATOMIC SAVES:
  Save() writes the balance, every investment and the new entries as one
  unit. Either all of it is persisted or none of it is.

OPTIMISTIC VERSIONING:
  Save() succeeds only if the stored Version still equals acc.Version.
  On success acc.Version is incremented; on a mismatch the store returns
  ErrConcurrentModification and the caller reloads and retries.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - account/service.go: Load -> operate -> save with per-account locking
*/
package ledger

import "context"

// AccountStore owns durable per-user state.
type AccountStore interface {
	// Load returns the account or ErrAccountNotFound.
	// The returned value is a private copy owned by the caller.
	Load(ctx context.Context, id AccountID) (*Account, error)

	// Save persists the account and appends entries atomically.
	// Returns ErrConcurrentModification if the stored version moved on,
	// ErrAccountNotFound if the account was deleted since Load, and
	// ErrDuplicateIdempotencyKey if an entry key was already committed.
	Save(ctx context.Context, acc *Account, entries ...Entry) error

	// Create persists a brand new account (Balance 0, no investments).
	Create(ctx context.Context, acc *Account) error

	// Delete removes the account, its investments and its journal.
	Delete(ctx context.Context, id AccountID) error
}

// Journal is the read side of the append-only entry log.
type Journal interface {
	// Entries returns the newest entries first. limit <= 0 means no limit.
	Entries(ctx context.Context, id AccountID, limit int) ([]Entry, error)

	// HasEntry reports whether an entry with this idempotency key exists.
	HasEntry(ctx context.Context, id AccountID, idempotencyKey string) (bool, error)
}
