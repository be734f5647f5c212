package sync

import (
	"strconv"
	stdsync "sync"
)

// LockManager hands out one mutex per key. Operations on the same game must
// hold GameLock for their duration.
type LockManager struct {
	locks stdsync.Map
}

// NewLockManager creates a new LockManager
func NewLockManager() *LockManager {
	return &LockManager{}
}

// GetLock returns a mutex for the given key
func (lm *LockManager) GetLock(key string) *stdsync.Mutex {
	lock, _ := lm.locks.LoadOrStore(key, &stdsync.Mutex{})
	return lock.(*stdsync.Mutex)
}

// GameLock returns the mutex serializing sync work on a game.
func (lm *LockManager) GameLock(gameID int64) *stdsync.Mutex {
	return lm.GetLock("game:" + strconv.FormatInt(gameID, 10))
}

// WithGame runs fn while holding the game's lock.
func (lm *LockManager) WithGame(gameID int64, fn func()) {
	mu := lm.GameLock(gameID)
	mu.Lock()
	defer mu.Unlock()
	fn()
}
