package contextmgr

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatagent/pkg/logx"
)

// ErrSessionNotFound is returned when a session ID has no live window.
var ErrSessionNotFound = errors.New("session not found")

// StoreConfig bounds the session store.
type StoreConfig struct {
	Window      WindowConfig
	MaxSessions int           // 0 = unbounded
	IdleTTL     time.Duration // 0 = never expire
}

type session struct {
	window   *Window
	lock     chan struct{} // one-slot semaphore serializing requests
	lastUsed time.Time
	refs     int
}

// Store keeps one Window per conversation key. Requests against the same key
// are serialized; different keys proceed in parallel. Nothing is persisted.
type Store struct {
	cfg      StoreConfig
	logger   *logx.Logger
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*session
	onChange func(active int)
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig, logger *logx.Logger) *Store {
	if logger == nil {
		logger = logx.NewLogger("sessions")
	}
	return &Store{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// OnChange registers a callback invoked with the live session count after
// sessions are created or removed.
func (s *Store) OnChange(fn func(active int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Lease grants exclusive use of one session's window until Release.
type Lease struct {
	ID      string
	Window  *Window
	Created bool

	once    sync.Once
	release func()
}

// Release returns the session. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// NewSessionID returns a time-ordered UUID.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Acquire returns the window for id, creating it when missing. An empty id
// starts a new session. Acquire blocks while another request holds the same
// session and gives up when ctx is done.
func (s *Store) Acquire(ctx context.Context, id string) (*Lease, error) {
	if id == "" {
		id = NewSessionID()
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{
			window: NewWindow(s.cfg.Window),
			lock:   make(chan struct{}, 1),
		}
		s.sessions[id] = sess
		s.evictOverflowLocked(id)
	}
	sess.refs++
	sess.lastUsed = s.now()
	active := len(s.sessions)
	notify := s.onChange
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("created session %s (%d active)", id, active)
		if notify != nil {
			notify(active)
		}
	}

	select {
	case sess.lock <- struct{}{}:
	case <-ctx.Done():
		s.unref(sess)
		return nil, ctx.Err()
	}

	return &Lease{
		ID:      id,
		Window:  sess.window,
		Created: !ok,
		release: func() {
			<-sess.lock
			s.unref(sess)
		},
	}, nil
}

func (s *Store) unref(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.refs--
	sess.lastUsed = s.now()
}

// evictOverflowLocked drops least-recently-used idle sessions past MaxSessions.
func (s *Store) evictOverflowLocked(keep string) {
	if s.cfg.MaxSessions <= 0 {
		return
	}
	for len(s.sessions) > s.cfg.MaxSessions {
		oldestID := ""
		var oldest time.Time
		for id, sess := range s.sessions {
			if id == keep || sess.refs > 0 {
				continue
			}
			if oldestID == "" || sess.lastUsed.Before(oldest) {
				oldestID, oldest = id, sess.lastUsed
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.sessions, oldestID)
		s.logger.Info("evicted session %s: store at capacity (%d)", oldestID, s.cfg.MaxSessions)
	}
}

// Get returns the window for an existing session without locking it.
func (s *Store) Get(id string) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.window, nil
}

// Delete forgets a session. A request holding it finishes against the old window.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	active := len(s.sessions)
	notify := s.onChange
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	if notify != nil {
		notify(active)
	}
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IDs returns the live session IDs, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EvictIdle removes unheld sessions unused for longer than IdleTTL and
// returns how many were removed.
func (s *Store) EvictIdle() int {
	if s.cfg.IdleTTL <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.cfg.IdleTTL)
	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.refs == 0 && sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	active := len(s.sessions)
	notify := s.onChange
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("expired %d idle sessions (%d active)", removed, active)
		if notify != nil {
			notify(active)
		}
	}
	return removed
}

// Run expires idle sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.cfg.IdleTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = s.cfg.IdleTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}
