package account

import (
	"sync"

	"github.com/starfall/economy-engine/internal/model"
)

// keyedMutex hands out one mutex per account key. Entries are reference
// counted and dropped once no goroutine holds or waits on them, so the map
// only grows with the number of accounts in flight.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[model.AccountKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[model.AccountKey]*keyLock)}
}

// Lock blocks until key is held and returns the matching unlock func.
func (k *keyedMutex) Lock(key model.AccountKey) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// inFlight reports how many keys currently have holders or waiters.
func (k *keyedMutex) inFlight() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
