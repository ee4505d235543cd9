// Package stealth is the hook surface for the anti-detection layer. The
// core installs the registered init scripts on every new page and owns the
// per-session state map so that destroying a session always releases
// whatever the stealth layer parked for it.
package stealth

import (
	"sync"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"
)

// defaultInitScript is the minimal baseline; the real stealth layer
// registers richer scripts at startup.
const defaultInitScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Manager holds the registered init scripts and per-session stealth state.
type Manager struct {
	mu      sync.Mutex
	scripts []string
	state   map[string]map[string]any
}

func NewManager() *Manager {
	return &Manager{
		scripts: []string{defaultInitScript},
		state:   make(map[string]map[string]any),
	}
}

// RegisterInitScript appends a script evaluated on every new document of
// every page created after registration.
func (m *Manager) RegisterInitScript(script string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
}

// Apply installs the registered init scripts on a page before any
// navigation. Failures are logged and skipped; a page without stealth
// scripts is still usable.
func (m *Manager) Apply(page *rod.Page) {
	m.mu.Lock()
	scripts := make([]string, len(m.scripts))
	copy(scripts, m.scripts)
	m.mu.Unlock()

	for _, script := range scripts {
		if _, err := page.EvalOnNewDocument(script); err != nil {
			log.Warn().Err(err).Msg("failed to install init script")
		}
	}
}

// SessionState returns the mutable state bag for a session, creating it on
// first use. The stealth layer keys humanized input state here instead of
// holding process-wide globals.
func (m *Manager) SessionState(sessionID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[sessionID]
	if !ok {
		s = make(map[string]any)
		m.state[sessionID] = s
	}
	return s
}

// Cleanup drops all state for a session. Called from session destruction.
func (m *Manager) Cleanup(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, sessionID)
}
