package account

import (
	"sync"

	"github.com/warp/capital-ledger/ledger"
)

// Locker hands out one mutex per account. Entries are reference counted
// and dropped when the last holder unlocks, so idle accounts cost nothing.
type Locker struct {
	mu    sync.Mutex
	locks map[ledger.AccountID]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[ledger.AccountID]*refLock)}
}

// Lock blocks until the caller holds the account's mutex and returns the
// matching unlock func.
func (l *Locker) Lock(id ledger.AccountID) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// held reports how many accounts currently have a lock entry.
func (l *Locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
