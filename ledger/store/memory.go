// Package store provides in-memory ledger.AccountStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/capital-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	accounts    map[ledger.AccountID]*ledger.Account
	entries     map[ledger.AccountID][]ledger.Entry
	idempotency map[key]bool
}

type key struct {
	AccountID      ledger.AccountID
	IdempotencyKey string
}

var (
	_ ledger.AccountStore = (*Memory)(nil)
	_ ledger.Journal      = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[ledger.AccountID]*ledger.Account),
		entries:     make(map[ledger.AccountID][]ledger.Entry),
		idempotency: make(map[key]bool),
	}
}

func (m *Memory) Load(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	return acc.Clone(), nil
}

// Save replaces the stored account if its version still matches.
func (m *Memory) Save(_ context.Context, acc *ledger.Account, entries ...ledger.Entry) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[acc.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, acc.ID)
	}
	if stored.Version != acc.Version {
		return ledger.ErrConcurrentModification
	}

	// Check all idempotency keys first (atomic check)
	batch := make(map[key]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		k := key{AccountID: acc.ID, IdempotencyKey: e.IdempotencyKey}
		if m.idempotency[k] || batch[k] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		batch[k] = true
	}

	next := acc.Clone()
	next.Version++
	m.accounts[acc.ID] = next
	m.entries[acc.ID] = append(m.entries[acc.ID], entries...)
	for k := range batch {
		m.idempotency[k] = true
	}
	acc.Version = next.Version
	return nil
}

func (m *Memory) Create(_ context.Context, acc *ledger.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acc.ID]; ok {
		return fmt.Errorf("account %s already exists", acc.ID)
	}
	m.accounts[acc.ID] = acc.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	delete(m.accounts, id)
	delete(m.entries, id)
	for k := range m.idempotency {
		if k.AccountID == id {
			delete(m.idempotency, k)
		}
	}
	return nil
}

// =============================================================================
// JOURNAL
// =============================================================================

func (m *Memory) Entries(_ context.Context, id ledger.AccountID, limit int) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Appended chronologically, returned newest first.
	stored := m.entries[id]
	result := make([]ledger.Entry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		result = append(result, stored[i])
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) HasEntry(_ context.Context, id ledger.AccountID, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key{AccountID: id, IdempotencyKey: idempotencyKey}], nil
}

// Accounts returns a copy of every stored account, ordered by creation.
func (m *Memory) Accounts(_ context.Context) ([]*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ledger.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		result = append(result, acc.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
