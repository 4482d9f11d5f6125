package concurrency

import "sync"

// UserLocker serializes mutation of per-user state such as token counters
// and cron bookkeeping. Entries are reference counted and dropped when idle.
type UserLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewUserLocker() *UserLocker {
	return &UserLocker{
		locks: make(map[string]*userLock),
	}
}

func (l *UserLocker) Lock(userID string) {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *UserLocker) Unlock(userID string) {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		l.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}

// WithLock runs fn while holding the lock for userID.
func (l *UserLocker) WithLock(userID string, fn func() error) error {
	l.Lock(userID)
	defer l.Unlock(userID)
	return fn()
}

// Size reports how many users currently hold or wait on a lock.
func (l *UserLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
