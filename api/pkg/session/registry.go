package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/command"
	"github.com/periscopehq/periscope/api/pkg/config"
	"github.com/periscopehq/periscope/api/pkg/devtools"
	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/stealth"
	"github.com/periscopehq/periscope/api/pkg/system"
	"github.com/periscopehq/periscope/api/pkg/types"
)

// ErrSessionLimit is returned when the session cap is reached and eviction
// could not free a slot.
var ErrSessionLimit = errors.New("session limit reached")

// ErrNotFound is returned for lookups of unknown session ids.
var ErrNotFound = errors.New("session not found")

// Publisher receives every frame and engine event once per session; fan-out
// to individual clients is the transport layer's job.
type Publisher interface {
	PublishFrame(sessionID string, frame types.Frame)
	PublishEvent(sessionID string, name string, data any)
	// SessionClosed tells the transport to close every client connection
	// still attached to the session.
	SessionClosed(sessionID string)
}

// CreateOptions are the caller-selectable parts of a new session.
type CreateOptions struct {
	Viewport   *types.Viewport
	Profile    string
	InitialURL string
}

// Registry owns the native browser and all sessions on it. All external
// references to sessions are id lookups.
type Registry struct {
	cfg     config.ServerConfig
	stealth *stealth.Manager
	pub     Publisher

	// onDestroy runs for every destroyed session before teardown; the
	// transport wires intervention cancellation here.
	onDestroy func(sessionID string)

	mu       sync.RWMutex
	sessions map[string]*Session
	browser  *rod.Browser
	launcher *launcher.Launcher

	gcStop chan struct{}
	gcDone chan struct{}
}

func NewRegistry(cfg config.ServerConfig, st *stealth.Manager) *Registry {
	return &Registry{
		cfg:      cfg,
		stealth:  st,
		sessions: make(map[string]*Session),
	}
}

// SetPublisher must be called before Initialize.
func (r *Registry) SetPublisher(pub Publisher) {
	r.pub = pub
}

// SetDestroyHook registers a callback invoked at the start of every session
// destruction.
func (r *Registry) SetDestroyHook(hook func(sessionID string)) {
	r.onDestroy = hook
}

// Initialize launches the native browser and starts the GC loop.
func (r *Registry) Initialize() error {
	browser, l, err := launchBrowser(
		r.cfg.Browser.Headless,
		r.cfg.Sessions.ViewportWidth,
		r.cfg.Sessions.ViewportHeight,
	)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.browser = browser
	r.launcher = l
	r.gcStop = make(chan struct{})
	r.gcDone = make(chan struct{})
	r.mu.Unlock()

	go r.gcLoop()
	return nil
}

// Initialized reports whether the native browser is up. Used by readiness
// probes.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.browser != nil
}

// MaxSessions returns the configured cap.
func (r *Registry) MaxSessions() int {
	return r.cfg.Sessions.Max
}

// CreateSession allocates an isolated browser context and brings it to
// Ready. At the cap it first tries to evict idle sessions.
func (r *Registry) CreateSession(ctx context.Context, opts CreateOptions) (*Session, error) {
	r.mu.RLock()
	browser := r.browser
	count := len(r.sessions)
	r.mu.RUnlock()
	if browser == nil {
		return nil, fmt.Errorf("registry is not initialized")
	}

	if count >= r.cfg.Sessions.Max {
		r.evictIdle()
	}

	viewport := types.Viewport{
		Width:            r.cfg.Sessions.ViewportWidth,
		Height:           r.cfg.Sessions.ViewportHeight,
		DevicePixelRatio: 1,
	}
	if opts.Viewport != nil && opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		viewport = *opts.Viewport
		if viewport.DevicePixelRatio <= 0 {
			viewport.DevicePixelRatio = 1
		}
	}

	id := system.GenerateSessionID()
	now := time.Now()
	sess := &Session{
		ID:           id,
		Profile:      opts.Profile,
		state:        types.SessionStateCreating,
		clients:      make(map[string]struct{}),
		viewport:     viewport,
		createdAt:    now,
		lastActivity: now,
	}

	// Publish under Creating so the cap counts in-flight creations; the cap
	// is enforced under the same lock as the insert.
	r.mu.Lock()
	if len(r.sessions) >= r.cfg.Sessions.Max {
		r.mu.Unlock()
		return nil, ErrSessionLimit
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	if err := r.buildSession(ctx, sess, browser, opts, viewport); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		r.teardown(sess)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sess.setState(types.SessionStateReady)
	log.Info().
		Str("session_id", id).
		Int("width", viewport.Width).
		Int("height", viewport.Height).
		Msg("session ready")
	return sess, nil
}

func (r *Registry) buildSession(ctx context.Context, sess *Session, browser *rod.Browser, opts CreateOptions, viewport types.Viewport) error {
	incognito, err := browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}
	sess.context = incognito

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	sess.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             viewport.Width,
		Height:            viewport.Height,
		DeviceScaleFactor: viewport.DevicePixelRatio,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to set viewport")
	}

	r.stealth.Apply(page)

	sess.Channel = devtools.NewChannel(page, viewport,
		r.cfg.Browser.ScreencastQuality, r.cfg.Browser.ScreencastNth,
		func(f types.Frame) {
			sess.storeFrame(f)
			sess.Touch()
			if r.pub != nil {
				r.pub.PublishFrame(sess.ID, f)
			}
		})

	executor := command.NewPageExecutor(page)
	sess.Queue = command.NewQueue(executor,
		r.cfg.Commands.Timeout(),
		command.NewDelays(command.DelayMode(r.cfg.Commands.DelayMode)))

	if err := sess.Channel.StartScreencast(); err != nil {
		return err
	}

	r.watchPageEvents(sess, page)

	if opts.InitialURL != "" {
		navCtx, cancel := context.WithTimeout(ctx, r.cfg.Commands.Timeout())
		defer cancel()
		if _, err := executor.Execute(navCtx, "navigate", map[string]any{"url": opts.InitialURL}); err != nil {
			return fmt.Errorf("initial navigation: %w", err)
		}
	}
	return nil
}

// watchPageEvents forwards engine events (navigations, console output) to
// the publisher until the page goes away.
func (r *Registry) watchPageEvents(sess *Session, page *rod.Page) {
	go page.EachEvent(
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			sess.Touch()
			if r.pub != nil {
				r.pub.PublishEvent(sess.ID, protocol.EventNavigated, map[string]any{"url": e.Frame.URL})
			}
		},
		func(e *proto.RuntimeConsoleAPICalled) {
			if r.pub == nil {
				return
			}
			args := make([]string, 0, len(e.Args))
			for _, a := range e.Args {
				args = append(args, a.Value.String())
			}
			r.pub.PublishEvent(sess.ID, protocol.EventConsole, map[string]any{
				"level": string(e.Type),
				"args":  args,
			})
		},
		func(*proto.InspectorTargetCrashed) {
			log.Error().Str("session_id", sess.ID).Msg("page target crashed")
			if r.pub != nil {
				r.pub.PublishEvent(sess.ID, protocol.EventError, map[string]any{
					"code":    protocol.ErrCodeSessionCrashed,
					"message": "browser page crashed",
				})
			}
			go func() {
				if err := r.DestroySession(sess.ID); err != nil {
					log.Debug().Err(err).Str("session_id", sess.ID).Msg("crash teardown")
				}
			}()
		},
	)()
}

// GetSession is the hot path; it takes only a read lock.
func (r *Registry) GetSession(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (r *Registry) HasSession(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// ListSessions returns a snapshot ordered oldest first.
func (r *Registry) ListSessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Touch refreshes a session's activity timestamp.
func (r *Registry) Touch(id string) {
	if sess, err := r.GetSession(id); err == nil {
		sess.Touch()
	}
}

// AddClient attaches a transport connection to a session.
func (r *Registry) AddClient(id, clientID string) error {
	sess, err := r.GetSession(id)
	if err != nil {
		return err
	}
	sess.addClient(clientID)
	return nil
}

// RemoveClient detaches a transport connection.
func (r *Registry) RemoveClient(id, clientID string) {
	if sess, err := r.GetSession(id); err == nil {
		sess.removeClient(clientID)
	}
}

// UpdateSessionScreencast records a new viewport and restarts the
// screencast with matching capture dimensions. Called after a successful
// setViewport command.
func (r *Registry) UpdateSessionScreencast(id string, width, height int) error {
	sess, err := r.GetSession(id)
	if err != nil {
		return err
	}
	sess.setViewport(types.Viewport{Width: width, Height: height, DevicePixelRatio: sess.Viewport().DevicePixelRatio})
	sess.Touch()
	return sess.Channel.RestartScreencast(width, height)
}

// DestroySession tears a session down and removes it. Idempotent; a GC
// initiated destroy is indistinguishable from an operator initiated one.
func (r *Registry) DestroySession(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	state := sess.State()
	if state == types.SessionStateClosing || state == types.SessionStateClosed {
		return nil
	}
	sess.setState(types.SessionStateClosing)

	if r.onDestroy != nil {
		r.onDestroy(id)
	}
	r.teardown(sess)
	r.stealth.Cleanup(id)
	sess.setState(types.SessionStateClosed)
	if r.pub != nil {
		r.pub.SessionClosed(id)
	}
	log.Info().Str("session_id", id).Msg("session destroyed")
	return nil
}

// teardown releases the session's engine resources; every step is
// best-effort because the browser side may already be gone.
func (r *Registry) teardown(sess *Session) {
	if sess.Queue != nil {
		sess.Queue.Close()
	}
	if sess.Channel != nil {
		sess.Channel.Close()
	}
	if sess.page != nil {
		if err := sess.page.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", sess.ID).Msg("page close failed")
		}
	}
	r.mu.RLock()
	browser := r.browser
	r.mu.RUnlock()
	if sess.context != nil && sess.context.BrowserContextID != "" && browser != nil {
		err := proto.TargetDisposeBrowserContext{
			BrowserContextID: sess.context.BrowserContextID,
		}.Call(browser)
		if err != nil {
			log.Debug().Err(err).Str("session_id", sess.ID).Msg("context dispose failed")
		}
	}
}

// Close stops the GC loop, destroys every session and shuts the native
// browser down.
func (r *Registry) Close() {
	r.mu.Lock()
	gcStop := r.gcStop
	gcDone := r.gcDone
	r.gcStop = nil
	r.mu.Unlock()
	if gcStop != nil {
		close(gcStop)
		<-gcDone
	}

	for _, sess := range r.ListSessions() {
		if err := r.DestroySession(sess.ID); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("destroy on close failed")
		}
	}

	r.mu.Lock()
	browser := r.browser
	l := r.launcher
	r.browser = nil
	r.launcher = nil
	r.mu.Unlock()

	if browser != nil {
		if err := browser.Close(); err != nil {
			log.Debug().Err(err).Msg("browser close failed")
		}
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}
}

// evictIdle destroys the most-idle client-less sessions to make room, up
// to half of the idle set and never more than three.
func (r *Registry) evictIdle() {
	now := time.Now()
	type candidate struct {
		id   string
		idle time.Duration
	}
	var idle []candidate
	for _, sess := range r.ListSessions() {
		if sess.ClientCount() == 0 && sess.State() == types.SessionStateReady {
			idle = append(idle, candidate{id: sess.ID, idle: sess.idleFor(now)})
		}
	}
	if len(idle) == 0 {
		return
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].idle > idle[j].idle })

	n := evictionBudget(len(idle))
	for _, c := range idle[:n] {
		log.Info().Str("session_id", c.id).Dur("idle", c.idle).Msg("evicting idle session")
		if err := r.DestroySession(c.id); err != nil {
			log.Warn().Err(err).Str("session_id", c.id).Msg("eviction failed")
		}
	}
}

// evictionBudget is how many idle sessions one create attempt may reclaim.
func evictionBudget(idleCount int) int {
	n := (idleCount + 1) / 2
	if n > 3 {
		n = 3
	}
	return n
}

func (r *Registry) gcLoop() {
	defer close(r.gcDone)
	ticker := time.NewTicker(r.cfg.Sessions.GCInterval())
	defer ticker.Stop()
	for {
		select {
		case <-r.gcStop:
			return
		case <-ticker.C:
			r.collect(time.Now())
		}
	}
}

// collect destroys expired and idle sessions. It runs on the GC goroutine
// only, so ticks never overlap.
func (r *Registry) collect(now time.Time) {
	for _, sess := range r.ListSessions() {
		if !shouldCollect(sess.age(now), sess.idleFor(now), sess.ClientCount(),
			r.cfg.Sessions.MaxLifetime(), r.cfg.Sessions.IdleTimeout()) {
			continue
		}
		log.Info().
			Str("session_id", sess.ID).
			Dur("age", sess.age(now)).
			Dur("idle", sess.idleFor(now)).
			Int("clients", sess.ClientCount()).
			Msg("garbage collecting session")
		if err := r.DestroySession(sess.ID); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("gc destroy failed")
		}
	}
}

// shouldCollect is the GC predicate: hard lifetime cap for everyone, idle
// timeout only for sessions nobody is watching.
func shouldCollect(age, idle time.Duration, clients int, maxLifetime, idleTimeout time.Duration) bool {
	if maxLifetime > 0 && age > maxLifetime {
		return true
	}
	return clients == 0 && idleTimeout > 0 && idle > idleTimeout
}
