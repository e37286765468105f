/*
Package account runs ledger operations against persisted accounts.

PURPOSE:
  The ledger.Engine is pure; this package gives it durability. Every
  mutating call follows the same cycle:

    lock(account) -> load -> engine op -> save(account, entry) -> unlock

  If the engine rejects the input nothing is saved. If the save fails the
  in-memory copy is discarded and the caller gets the error.

CONCURRENCY:
  Two layers protect an account:
  1. Locker: one mutex per account inside this process
  2. Store versioning: Save fails with ErrConcurrentModification when
     another writer (a second process, the admin CLI) got there first

  On a version conflict the cycle is re-run from load, up to maxRetries
  times.

IDEMPOTENCY:
  A non-empty idempotency key is stored on the journal entry. A key that
  was already committed for the account is answered with
  ErrDuplicateIdempotencyKey and the operation is not applied again.

SEE ALSO:
  - ledger/engine.go: The operations themselves
  - ledger/store.go: AccountStore and Journal contracts
  - api/handlers.go: HTTP callers
*/
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/capital-ledger/ledger"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds the reload-and-retry loop on version conflicts.
const DefaultMaxRetries = 3

// Store is everything the service needs from persistence.
type Store interface {
	ledger.AccountStore
	ledger.Journal
}

// Service serializes ledger operations per account.
type Service struct {
	store      Store
	engine     *ledger.Engine
	locks      *Locker
	maxRetries int
	log        *zap.Logger
}

// NewService wires a store and an engine. maxRetries <= 0 means
// DefaultMaxRetries.
func NewService(store Store, engine *ledger.Engine, maxRetries int) *Service {
	if engine == nil {
		engine = ledger.NewEngine(nil)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{
		store:      store,
		engine:     engine,
		locks:      NewLocker(),
		maxRetries: maxRetries,
		log:        zap.L().Named("account"),
	}
}

// Engine exposes the engine, mainly for its clock.
func (s *Service) Engine() *ledger.Engine { return s.engine }

// =============================================================================
// READS
// =============================================================================

// Get returns a private copy of the account.
func (s *Service) Get(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return s.store.Load(ctx, id)
}

// Entries returns the account's journal, newest first.
func (s *Service) Entries(ctx context.Context, id ledger.AccountID, limit int) ([]ledger.Entry, error) {
	if _, err := s.store.Load(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, id, limit)
}

// InvestmentAccrual pairs an investment with what it has earned so far.
type InvestmentAccrual struct {
	Investment ledger.Investment
	Accrual    ledger.Accrual
}

// Preview is a read-only valuation of an account at an instant.
type Preview struct {
	Account     *ledger.Account
	At          time.Time
	Investments []InvestmentAccrual // every investment, in creation order
	TotalGain   decimal.Decimal     // accrued gain of open investments only
}

// Preview values every open investment at the given instant without closing
// anything. A zero at means the engine clock.
func (s *Service) Preview(ctx context.Context, id ledger.AccountID, at time.Time) (*Preview, error) {
	acc, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = s.engine.Now()
	}

	p := &Preview{Account: acc, At: at, TotalGain: decimal.Zero}
	for _, inv := range acc.Investments {
		ia := InvestmentAccrual{Investment: inv}
		if inv.IsOpen() {
			ia.Accrual = ledger.AccrueInvestment(inv, at)
			p.TotalGain = p.TotalGain.Add(ia.Accrual.Gain)
		}
		p.Investments = append(p.Investments, ia)
	}
	return p, nil
}

// =============================================================================
// WRITES
// =============================================================================

// Create persists a fresh account with a zero balance.
func (s *Service) Create(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	acc := ledger.NewAccount(id, s.engine.Now())
	if err := s.store.Create(ctx, acc); err != nil {
		return nil, fmt.Errorf("create account %s: %w", id, err)
	}
	s.log.Info("account created", zap.String("account_id", string(id)))
	return acc, nil
}

// Deposit credits the cash balance.
func (s *Service) Deposit(ctx context.Context, id ledger.AccountID, amount, idempotencyKey string) (*ledger.Account, ledger.Entry, error) {
	var entry ledger.Entry
	acc, err := s.mutate(ctx, id, idempotencyKey, func(acc *ledger.Account) (ledger.Entry, error) {
		e, err := s.engine.Deposit(acc, amount)
		entry = e
		return e, err
	})
	if err != nil {
		return nil, ledger.Entry{}, err
	}
	entry.IdempotencyKey = idempotencyKey
	return acc, entry, nil
}

// OpenInvestment moves cash into a new open investment.
func (s *Service) OpenInvestment(ctx context.Context, id ledger.AccountID, amount, roiRate, idempotencyKey string) (*ledger.Account, ledger.Investment, error) {
	var inv ledger.Investment
	acc, err := s.mutate(ctx, id, idempotencyKey, func(acc *ledger.Account) (ledger.Entry, error) {
		i, e, err := s.engine.OpenInvestment(acc, amount, roiRate)
		inv = i
		return e, err
	})
	if err != nil {
		return nil, ledger.Investment{}, err
	}
	return acc, inv, nil
}

// UpdateInvestment overwrites the terms of an open investment.
func (s *Service) UpdateInvestment(ctx context.Context, id ledger.AccountID, invID ledger.InvestmentID, amount, roiRate, idempotencyKey string) (*ledger.Account, ledger.Investment, error) {
	var inv ledger.Investment
	acc, err := s.mutate(ctx, id, idempotencyKey, func(acc *ledger.Account) (ledger.Entry, error) {
		i, e, err := s.engine.UpdateInvestment(acc, invID, amount, roiRate)
		inv = i
		return e, err
	})
	if err != nil {
		return nil, ledger.Investment{}, err
	}
	return acc, inv, nil
}

// CloseInvestment settles an open investment at the engine clock.
func (s *Service) CloseInvestment(ctx context.Context, id ledger.AccountID, invID ledger.InvestmentID, idempotencyKey string) (*ledger.Account, ledger.Settlement, error) {
	var settlement ledger.Settlement
	acc, err := s.mutate(ctx, id, idempotencyKey, func(acc *ledger.Account) (ledger.Entry, error) {
		st, e, err := s.engine.CloseInvestment(acc, invID, time.Time{})
		settlement = st
		return e, err
	})
	if err != nil {
		return nil, ledger.Settlement{}, err
	}
	return acc, settlement, nil
}

// Delete removes the account and its journal. Later operations on the same
// id fail with ErrAccountNotFound.
func (s *Service) Delete(ctx context.Context, id ledger.AccountID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("account deleted", zap.String("account_id", string(id)))
	return nil
}

// mutate runs op under the account lock and saves the result with its entry.
func (s *Service) mutate(ctx context.Context, id ledger.AccountID, idempotencyKey string, op func(*ledger.Account) (ledger.Entry, error)) (*ledger.Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if idempotencyKey != "" {
		seen, err := s.store.HasEntry(ctx, id, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		}
		if seen {
			return nil, ledger.ErrDuplicateIdempotencyKey
		}
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acc, err := s.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}

		entry, err := op(acc)
		if err != nil {
			return nil, err
		}
		entry.IdempotencyKey = idempotencyKey

		err = s.store.Save(ctx, acc, entry)
		if err == nil {
			s.log.Info("ledger operation committed",
				zap.String("account_id", string(id)),
				zap.String("type", string(entry.Type)),
				zap.String("investment_id", string(entry.InvestmentID)),
				zap.String("amount", entry.Amount.String()),
				zap.String("balance", entry.BalanceAfter.String()),
				zap.Int64("version", acc.Version))
			return acc, nil
		}
		if !ledger.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		s.log.Warn("version conflict, retrying",
			zap.String("account_id", string(id)),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", s.maxRetries+1, lastErr)
}
