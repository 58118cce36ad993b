package ptyterm

import (
	"log"
	"os"
	"sync"
	"time"
)

// DefaultGracePeriod is how long an orphaned session survives before the
// reaper terminates it.
const DefaultGracePeriod = 60 * time.Second

// Manager is the process-wide registry of PTY sessions, keyed both by
// session id and by attached client. A single mutex guards both maps; it is
// never held across Terminate/Attach/Reattach.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byClient map[Client]string

	grace    time.Duration
	tmuxPath string

	// injection points for tests
	now   func() time.Time
	spawn func(dir string, cols, rows uint16, tmuxName, tmuxPath string) (*Session, error)
}

// NewManager returns a manager whose tmux-backed spawns use the given binary.
func NewManager(tmuxPath string) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byClient: make(map[Client]string),
		grace:    DefaultGracePeriod,
		tmuxPath: tmuxPath,
		now:      time.Now,
		spawn:    Spawn,
	}
}

// CreateFor spawns a session for a client. An invalid working directory is
// substituted with the user's home before spawning. Returns a *SpawnError
// when the fork/exec path fails; no session is registered in that case.
func (m *Manager) CreateFor(c Client, dir string, cols, rows uint16, tmuxName string) (*Session, error) {
	dir = validDirOrHome(dir)

	s, err := m.spawn(dir, cols, rows, tmuxName, m.tmuxPath)
	if err != nil {
		return nil, err
	}
	s.setOnExit(m.handleExit)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.byClient[c] = s.ID
	m.mu.Unlock()

	s.Attach(c)
	log.Printf("[Terminal] Session %s created (dir: %s, tmux: %q, %dx%d)", s.ID, dir, tmuxName, cols, rows)
	return s, nil
}

// validDirOrHome returns dir when it is an existing directory, otherwise the
// user's home.
func validDirOrHome(dir string) string {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// SessionFor returns the session attached to a client, or nil.
func (m *Manager) SessionFor(c Client) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byClient[c]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

// Detach unbinds a client; the session stays registered as an orphan until
// reattach or reap.
func (m *Manager) Detach(c Client) {
	m.mu.Lock()
	id, ok := m.byClient[c]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byClient, c)
	s := m.sessions[id]
	m.mu.Unlock()

	if s != nil {
		s.Detach(m.now())
		log.Printf("[Terminal] Session %s detached (orphaned)", id)
	}
}

// Remove unbinds a client and terminates its session.
func (m *Manager) Remove(c Client) {
	m.mu.Lock()
	id, ok := m.byClient[c]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byClient, c)
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if s != nil {
		s.Terminate()
		log.Printf("[Terminal] Session %s removed", id)
	}
}

// FindOrphanByID returns the session iff it exists and is orphaned.
func (m *Manager) FindOrphanByID(id string) *Session {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s != nil && s.Orphaned() {
		return s
	}
	return nil
}

// FindOrphansByDir returns every orphan whose working directory matches.
func (m *Manager) FindOrphansByDir(dir string) []*Session {
	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	var orphans []*Session
	for _, s := range candidates {
		if s.WorkingDir == dir && s.Orphaned() {
			orphans = append(orphans, s)
		}
	}
	return orphans
}

// FindOrphanByTmux returns the first orphan attached to the named tmux
// session, or nil.
func (m *Manager) FindOrphanByTmux(name string) *Session {
	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	for _, s := range candidates {
		if s.TmuxName == name && s.Orphaned() {
			return s
		}
	}
	return nil
}

// Reattach binds a client to an orphaned session. Returns false when the
// session is unknown, terminated, or already attached.
func (m *Manager) Reattach(id string, c Client) bool {
	m.mu.Lock()
	s := m.sessions[id]
	if s == nil || !s.Orphaned() {
		m.mu.Unlock()
		return false
	}
	m.byClient[c] = id
	m.mu.Unlock()

	s.Reattach(c)
	log.Printf("[Terminal] Session %s reattached", id)
	return true
}

// ReapOrphans terminates every orphan whose grace period has expired and
// returns the count. Termination happens outside the lock.
func (m *Manager) ReapOrphans() int {
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		last := s.LastDisconnectedAt()
		if s.Orphaned() && !last.IsZero() && now.Sub(last) > m.grace {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Terminate()
		log.Printf("[Terminal] Reaped orphan session %s", s.ID)
	}
	return len(expired)
}

// RemoveAll terminates every session and clears both maps.
func (m *Manager) RemoveAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.byClient = make(map[Client]string)
	m.mu.Unlock()

	for _, s := range all {
		s.Terminate()
	}
	if len(all) > 0 {
		log.Printf("[Terminal] Removed all %d sessions", len(all))
	}
}

// SessionCount returns the number of registered sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// handleExit drops a session whose child died on its own and closes its fd.
func (m *Manager) handleExit(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	for c, id := range m.byClient {
		if id == s.ID {
			delete(m.byClient, c)
		}
	}
	m.mu.Unlock()

	s.Terminate()
	log.Printf("[Terminal] Session %s exited", s.ID)
}
