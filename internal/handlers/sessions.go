package handlers

import (
	"sync"
	"time"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/transcript"
)

// sessions is the registry of live chat sessions, one per page load.
type sessions struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	session  *transcript.Session
	lastSeen time.Time
}

func newSessions(ttl time.Duration) *sessions {
	return &sessions{
		ttl:     ttl,
		entries: make(map[string]*sessionEntry),
	}
}

func (s *sessions) add(id string, session *transcript.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &sessionEntry{session: session, lastSeen: time.Now()}
}

// get returns the session and marks it as used.
func (s *sessions) get(id string) (*transcript.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = time.Now()
	return e.session, true
}

// sweep closes and forgets the sessions idle for longer than the TTL. Sessions with a submission in
// flight are kept.
func (s *sessions) sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	var expired []*transcript.Session
	s.mu.Lock()
	for id, e := range s.entries {
		if now.Sub(e.lastSeen) > s.ttl && !e.session.InFlight() {
			expired = append(expired, e.session)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Close()
	}
	return len(expired)
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	all := make([]*transcript.Session, 0, len(s.entries))
	for id, e := range s.entries {
		all = append(all, e.session)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
}

func (s *sessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
