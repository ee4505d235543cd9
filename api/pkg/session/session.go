// Package session owns the native browser and every isolated browser
// session multiplexed onto it: creation, indexing, activity tracking,
// eviction and the GC loop.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"github.com/periscopehq/periscope/api/pkg/command"
	"github.com/periscopehq/periscope/api/pkg/devtools"
	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/types"
)

// Session is one isolated browser context with exactly one page, one debug
// channel and one command queue. The registry is the sole owner; everything
// outside holds the id only.
type Session struct {
	ID string

	// Profile is an opaque fingerprint-profile descriptor supplied at
	// creation; the service stores and reports it but never interprets it.
	Profile string

	Channel *devtools.Channel
	Queue   *command.Queue

	context *rod.Browser
	page    *rod.Page

	mu           sync.Mutex
	state        types.SessionState
	clients      map[string]struct{}
	viewport     types.Viewport
	createdAt    time.Time
	lastActivity time.Time

	lastFrame atomic.Pointer[types.Frame]
}

func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state types.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Ready reports whether the session accepts input and commands. While not
// ready both are rejected with a COMMAND_FAILED envelope.
func (s *Session) Ready() bool {
	return s.State() == types.SessionStateReady
}

// NotReadyError is the well-defined rejection for a session that is still
// creating or already closing.
func (s *Session) NotReadyError() *protocol.CommandError {
	return protocol.NewCommandError(protocol.ErrCodeCommandFailed,
		"session "+s.ID+" is not ready (state: "+string(s.State())+")")
}

// Touch refreshes the activity timestamp. Last activity is monotonically
// non-decreasing.
func (s *Session) Touch() {
	s.mu.Lock()
	now := time.Now()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

func (s *Session) addClient(clientID string) {
	s.mu.Lock()
	s.clients[clientID] = struct{}{}
	s.mu.Unlock()
	s.Touch()
}

func (s *Session) removeClient(clientID string) {
	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()
	s.Touch()
}

// ClientCount returns the number of live connections attached.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Viewport returns the current browser viewport.
func (s *Session) Viewport() types.Viewport {
	if s.Channel != nil {
		return s.Channel.Viewport()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *Session) setViewport(vp types.Viewport) {
	s.mu.Lock()
	s.viewport = vp
	s.mu.Unlock()
}

// LastFrame returns the most recent frame, or nil before the first one.
func (s *Session) LastFrame() *types.Frame {
	return s.lastFrame.Load()
}

func (s *Session) storeFrame(f types.Frame) {
	s.lastFrame.Store(&f)
}

func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CurrentURL reports the page's URL; empty when unavailable.
func (s *Session) CurrentURL() string {
	if s.page == nil {
		return ""
	}
	info, err := s.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

// idleFor is the time since last activity, used by eviction and GC.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

func (s *Session) age(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.createdAt)
}
