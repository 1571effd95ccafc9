// Package manager holds the process-wide thread registry: one live
// session.Session per open thread, created lazily and rebound when the
// transport configuration changes.
package manager

import (
	"sync"

	"github.com/okapi-tools/switchboard/logger"
	"github.com/okapi-tools/switchboard/runner"
	"github.com/okapi-tools/switchboard/session"
)

// Manager maps thread ids to live Sessions. It is the only shared mutable
// registry in the core. Safe to call concurrently from multiple goroutines.
type Manager struct {
	store    session.Store
	notifier session.Notifier

	mu            sync.RWMutex
	run           runner.Runner
	sessions      map[string]*session.Session
	driverFactory session.DriverFactory
	titles        func(run runner.Runner, threadID string) session.TitleGenerator
}

// New creates the registry. run is the transport every new Session starts
// on; SetTransport changes it later.
func New(store session.Store, notifier session.Notifier, run runner.Runner) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		run:      run,
		sessions: make(map[string]*session.Session),
	}
}

// SetDriverFactory overrides driver construction for every Session this
// manager creates (for testing).
func (m *Manager) SetDriverFactory(factory session.DriverFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driverFactory = factory
}

// SetTitleGenerator configures thread title generation. The builder is
// invoked per Session with the transport current at creation time.
func (m *Manager) SetTitleGenerator(build func(run runner.Runner, threadID string) session.TitleGenerator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = build
}

// Get returns the live Session for a thread, opening it on first access.
// Uses double-checked locking so concurrent callers never open a thread
// twice.
func (m *Manager) Get(threadID string) (*session.Session, error) {
	m.mu.RLock()
	if s, ok := m.sessions[threadID]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[threadID]; ok {
		return s, nil
	}

	deps := session.Deps{
		Store:     m.store,
		Notifier:  m.notifier,
		Runner:    m.run,
		NewDriver: m.driverFactory,
	}
	if m.titles != nil {
		deps.Titles = m.titles(m.run, threadID)
	}

	s, err := session.New(threadID, deps)
	if err != nil {
		return nil, err
	}
	m.sessions[threadID] = s

	logger.WithComponent("manager").Info("session opened", "threadID", threadID, "open", len(m.sessions))
	return s, nil
}

// Peek returns the live Session if the thread is already open, without
// creating one.
func (m *Manager) Peek(threadID string) *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[threadID]
}

// Remove drops a thread's live Session from the registry, stopping any
// in-flight turn first. The next Get reopens it from storage.
func (m *Manager) Remove(threadID string) {
	m.mu.Lock()
	s := m.sessions[threadID]
	delete(m.sessions, threadID)
	m.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

// SetTransport switches every open Session to a new transport. Sessions
// rebind idle drivers immediately; a running driver keeps its current
// transport until its turn finishes.
func (m *Manager) SetTransport(run runner.Runner) {
	m.mu.Lock()
	m.run = run
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	logger.WithComponent("manager").Info("transport changed", "transport", run.Description(), "sessions", len(sessions))
	for _, s := range sessions {
		s.UpdateTransport(run)
	}
}

// Open returns how many threads currently have a live Session.
func (m *Manager) Open() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops every running turn. Sessions stay in the registry; this
// is for process exit, not thread closure.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Stop()
	}
}
