package sync

import stdsync "sync"

// Session is the state of one play session of a game. It is created by the
// caller when the game launches and passed into uploads made during that
// session.
type Session struct {
	GameID int64

	mu                 stdsync.Mutex
	startedOnOlderSave bool
}

// NewSession starts a session for a game.
func NewSession(gameID int64) *Session {
	return &Session{GameID: gameID}
}

// MarkStartedOnOlderSave records whether the game was launched on a save
// older than the server's latest one.
func (s *Session) MarkStartedOnOlderSave(older bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.startedOnOlderSave = older
	s.mu.Unlock()
}

// StartedOnOlderSave reports whether the session began on an outdated save.
func (s *Session) StartedOnOlderSave() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedOnOlderSave
}
