package wall

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tkardel/camwall/directory"
	"github.com/tkardel/camwall/engine"
	"github.com/tkardel/camwall/internal/clock"
	"github.com/tkardel/camwall/internal/metrics"
	"github.com/tkardel/camwall/livesync"
	"github.com/tkardel/camwall/nav"
	"github.com/tkardel/camwall/session"
)

// Options configures a Manager.
type Options struct {
	Directory *directory.Directory
	Order     *nav.Ring
	Engines   engine.Factory
	// Sinks mints the surfaces sessions render into. Nil uses
	// session.BasicSinkFactory.
	Sinks   session.SinkFactory
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Config  Config
	Log     *slog.Logger
}

// preview is an open grid tile: a visible sink and, once the camera's
// stream address is known, the session feeding it.
type preview struct {
	sink session.Sink
	sess *session.Session
}

// Manager owns the focused surface, the preview tiles, and the warm pool.
// All state transitions are serialized on mu; external callbacks (session
// ready and error notifications, directory changes) re-enter through the
// public surface and take mu themselves, so no session or engine call is
// ever made while mu is held if it can call back synchronously.
type Manager struct {
	log     *slog.Logger
	dir     *directory.Directory
	ring    *nav.Ring
	engines engine.Factory
	sinks   session.SinkFactory
	clk     clock.Clock
	metrics *metrics.Metrics
	cfg     Config
	pool    *session.Pool

	mu          sync.Mutex
	closed      bool
	focused     string
	focusedOpen bool
	visibleSink session.Sink
	visibleSess *session.Session
	previews    map[string]*preview
	mounted     map[string]session.Sink
	current     *handoff
	nextSubID   int
	subs        map[int]chan Event
	dirCancel   func()
}

// New creates a Manager and subscribes it to directory changes.
func New(opts Options) *Manager {
	if opts.Sinks == nil {
		opts.Sinks = session.BasicSinkFactory{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	cfg := opts.Config
	if cfg.WarmCapacity <= 0 {
		cfg.WarmCapacity = DefaultConfig().WarmCapacity
	}
	if cfg.Escalation <= 0 {
		cfg.Escalation = DefaultConfig().Escalation
	}
	if cfg.HardFinalize <= 0 {
		cfg.HardFinalize = DefaultConfig().HardFinalize
	}

	m := &Manager{
		log:      opts.Log.With("component", "wall"),
		dir:      opts.Directory,
		ring:     opts.Order,
		engines:  opts.Engines,
		sinks:    opts.Sinks,
		clk:      opts.Clock,
		metrics:  opts.Metrics,
		cfg:      cfg,
		previews: make(map[string]*preview),
		mounted:  make(map[string]session.Sink),
		subs:     make(map[int]chan Event),
	}
	m.pool = session.NewPool(session.PoolOptions{
		Capacity:      cfg.WarmCapacity,
		Engines:       opts.Engines,
		Resolver:      opts.Directory,
		Sinks:         opts.Sinks,
		Clock:         opts.Clock,
		Session:       cfg.Session,
		Log:           opts.Log,
		OnWarmRefusal: func(string) { m.metrics.RecordWarmRefusal() },
	})
	m.dirCancel = opts.Directory.OnChange(m.directoryChanged)
	return m
}

// Open focuses a camera, opening the focused view if it was closed.
func (m *Manager) Open(id string) error { return m.switchTo(id) }

// SwitchTo changes the focused camera via a double-buffered handoff.
func (m *Manager) SwitchTo(id string) error { return m.switchTo(id) }

// Next focuses the successor of the current camera in the navigation order.
func (m *Manager) Next() (string, error) { return m.step(m.ring.Next) }

// Prev focuses the predecessor of the current camera in the navigation order.
func (m *Manager) Prev() (string, error) { return m.step(m.ring.Prev) }

func (m *Manager) step(move func(string) (string, bool)) (string, error) {
	m.mu.Lock()
	focused := m.focused
	m.mu.Unlock()
	if focused == "" {
		return "", ErrNoFocusedCamera
	}
	id, ok := move(focused)
	if !ok {
		return "", ErrOutsideOrder
	}
	return id, m.switchTo(id)
}

// Close closes the focused view, tearing down its session and any pending
// handoff. Warmed and preview sessions are unaffected.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.focusedOpen {
		m.mu.Unlock()
		return
	}
	m.focusedOpen = false
	m.focused = ""

	var destroy []*session.Session
	if cur := m.current; cur != nil {
		cur.supersedeLocked()
		m.unmountLocked(cur.sink)
		if cur.sess != nil && cur.sess != m.visibleSess {
			destroy = append(destroy, cur.sess)
		}
		m.current = nil
	}
	if m.visibleSess != nil {
		destroy = append(destroy, m.visibleSess)
		m.visibleSess = nil
	}
	if m.visibleSink != nil {
		m.unmountLocked(m.visibleSink)
		m.visibleSink = nil
	}
	m.mu.Unlock()

	for _, s := range destroy {
		s.Destroy()
		m.metrics.RecordSessionDestroyed()
	}
	m.log.Info("focused view closed", "destroyed", len(destroy))
	m.emit(Event{Kind: EventActiveChanged})
}

// OpenPreview mounts a grid tile for the camera on the given sink. When the
// stream address is not known yet the tile stays mounted empty and fills in
// on the next directory update.
func (m *Manager) OpenPreview(id string, sink session.Sink) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if _, ok := m.dir.Lookup(id); !ok {
		m.mu.Unlock()
		return ErrUnknownCamera
	}
	if _, open := m.previews[id]; open {
		m.mu.Unlock()
		return ErrPreviewOpen
	}

	var cleanup []*session.Session
	var sess *session.Session
	created := false
	if addr, ok := m.dir.Resolve(id); ok {
		sess = m.pool.Checkout(id)
		if sess != nil && sess.Addr() != addr {
			cleanup = append(cleanup, sess)
			sess = nil
		}
		if sess == nil {
			eng, err := m.engines.New(id, addr)
			if err != nil {
				m.mu.Unlock()
				return err
			}
			sess = session.New(id, addr, eng, m.clk, m.cfg.Session, m.log)
			created = true
		}
	}
	m.previews[id] = &preview{sink: sink, sess: sess}
	m.mounted[sink.ID()] = sink
	m.mu.Unlock()

	for _, s := range cleanup {
		s.Destroy()
		m.metrics.RecordSessionDestroyed()
	}
	if sess != nil {
		if created {
			m.metrics.RecordSessionCreated()
		}
		sess.OnStreamError(m.handleStreamError)
		sess.Detach()
		if err := sess.Attach(sink); err != nil {
			m.log.Warn("preview attach failed", "camera", id, "error", err)
		}
		if err := sess.Play(); err != nil {
			m.log.Warn("preview play failed", "camera", id, "error", err)
		}
	}
	m.log.Info("preview opened", "camera", id, "pending", sess == nil)
	return nil
}

// ClosePreview unmounts the camera's grid tile and destroys its session.
func (m *Manager) ClosePreview(id string) {
	m.mu.Lock()
	p, ok := m.previews[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.previews, id)
	m.unmountLocked(p.sink)
	sess := p.sess
	m.mu.Unlock()

	if sess != nil {
		sess.Destroy()
		m.metrics.RecordSessionDestroyed()
	}
	m.log.Info("preview closed", "camera", id)
}

// SetFocusNeighbors overrides the automatic warm policy with an explicit
// neighbor set: sessions outside ids are evicted and ids are warmed up to
// capacity. The next focus change reverts to ring-based warming.
func (m *Manager) SetFocusNeighbors(ids []string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	m.mu.Unlock()

	m.pool.Reconcile(ids)
	m.pool.Warm(ids)
	m.metrics.SetPoolSize(m.pool.Len())
	m.log.Info("warm set overridden", "cameras", len(ids))
	return nil
}

// Subscribe returns a channel of wall events and a cancel func. Slow
// consumers have events dropped rather than blocking the manager.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	m.mu.Unlock()
}

// State is a point-in-time snapshot of the wall.
type State struct {
	FocusedCamera  string   `json:"focused_camera"`
	FocusedOpen    bool     `json:"focused_open"`
	Established    bool     `json:"established"`
	HandoffPending bool     `json:"handoff_pending"`
	Traversable    bool     `json:"traversable"`
	Warmed         []string `json:"warmed"`
	Previews       []string `json:"previews"`
	MountedSinks   []string `json:"mounted_sinks"`
}

// Snapshot returns the current wall state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	st := State{
		FocusedCamera:  m.focused,
		FocusedOpen:    m.focusedOpen,
		Established:    m.visibleSess != nil,
		HandoffPending: m.current != nil,
		Traversable:    m.focused != "" && m.ring.Contains(m.focused),
	}
	for id := range m.previews {
		st.Previews = append(st.Previews, id)
	}
	for id := range m.mounted {
		st.MountedSinks = append(st.MountedSinks, id)
	}
	m.mu.Unlock()

	st.Warmed = m.pool.IDs()
	sort.Strings(st.Warmed)
	sort.Strings(st.Previews)
	sort.Strings(st.MountedSinks)
	return st
}

// LiveTargets returns every attached, playing-capable session for the
// live-sync monitor: the visible one, the pending handoff driver, previews,
// and the warm pool.
func (m *Manager) LiveTargets() []livesync.Target {
	m.mu.Lock()
	var out []livesync.Target
	if m.visibleSess != nil {
		out = append(out, m.visibleSess)
	}
	if m.current != nil && m.current.sess != nil && m.current.sess != m.visibleSess {
		out = append(out, m.current.sess)
	}
	for _, p := range m.previews {
		if p.sess != nil {
			out = append(out, p.sess)
		}
	}
	m.mu.Unlock()

	for _, s := range m.pool.Sessions() {
		out = append(out, s)
	}
	return out
}

// Shutdown destroys every session and closes all subscriptions. The
// Manager is unusable afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.dirCancel != nil {
		m.dirCancel()
	}

	var destroy []*session.Session
	if cur := m.current; cur != nil {
		cur.supersedeLocked()
		if cur.sess != nil && cur.sess != m.visibleSess {
			destroy = append(destroy, cur.sess)
		}
		m.current = nil
	}
	if m.visibleSess != nil {
		destroy = append(destroy, m.visibleSess)
		m.visibleSess = nil
	}
	for id, p := range m.previews {
		if p.sess != nil {
			destroy = append(destroy, p.sess)
		}
		delete(m.previews, id)
	}
	m.mounted = make(map[string]session.Sink)
	subs := m.subs
	m.subs = make(map[int]chan Event)
	m.mu.Unlock()

	for _, s := range destroy {
		s.Destroy()
	}
	m.pool.Shutdown()
	for _, ch := range subs {
		close(ch)
	}
	m.log.Info("wall manager shut down")
}

func (m *Manager) unmountLocked(sink session.Sink) {
	if sink != nil {
		delete(m.mounted, sink.ID())
	}
}

func (m *Manager) handleStreamError(e *session.StreamError) {
	m.metrics.RecordStreamError(e.CameraID)
	m.log.Warn("stream error persisted", "camera", e.CameraID, "error", e.Cause)
	m.emit(Event{Kind: EventStreamError, CameraID: e.CameraID, Message: e.Error()})
}

// warmNeighbors reconciles the pool to the cameras adjacent to the focused
// one in the navigation order. The focused camera itself is excluded; its
// session is live on the visible surface.
func (m *Manager) warmNeighbors(focused string) {
	desired := m.ring.Neighbors(focused, m.cfg.WarmCapacity)
	if len(desired) > 0 && desired[0] == focused {
		desired = desired[1:]
	}
	m.pool.Reconcile(desired)
	m.pool.Warm(desired)
	m.metrics.SetPoolSize(m.pool.Len())
}

// directoryChanged re-resolves every live camera after a directory update:
// sessions whose stream address changed are rebuilt, pending tiles fill in,
// and a pending focused camera opens once its address arrives.
func (m *Manager) directoryChanged() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	type mount struct {
		sess *session.Session
		sink session.Sink
	}
	var destroy []*session.Session
	var mounts []mount
	reopen := ""

	if m.focusedOpen && m.focused != "" {
		if addr, ok := m.dir.Resolve(m.focused); ok {
			if cur := m.current; cur != nil {
				// A pending handoff driving a stale address must restart
				// against the new one, not promote the stale driver.
				if cur.sess == nil || cur.sess.Addr() != addr {
					reopen = m.focused
				}
			} else if m.visibleSess == nil || m.visibleSess.Addr() != addr {
				reopen = m.focused
			}
		}
	}

	for id, p := range m.previews {
		addr, ok := m.dir.Resolve(id)
		if !ok || (p.sess != nil && p.sess.Addr() == addr) {
			continue
		}
		eng, err := m.engines.New(id, addr)
		if err != nil {
			m.log.Warn("preview rebuild failed", "camera", id, "error", err)
			continue
		}
		if p.sess != nil {
			destroy = append(destroy, p.sess)
		}
		p.sess = session.New(id, addr, eng, m.clk, m.cfg.Session, m.log)
		mounts = append(mounts, mount{sess: p.sess, sink: p.sink})
	}

	var keep []string
	stale := false
	for _, sess := range m.pool.Sessions() {
		if addr, ok := m.dir.Resolve(sess.CameraID()); ok && sess.Addr() == addr {
			keep = append(keep, sess.CameraID())
		} else {
			stale = true
		}
	}
	focused := m.focused
	m.mu.Unlock()

	if stale {
		m.pool.Reconcile(keep)
	}
	for _, s := range destroy {
		s.Destroy()
		m.metrics.RecordSessionDestroyed()
	}
	for _, mt := range mounts {
		m.metrics.RecordSessionCreated()
		mt.sess.OnStreamError(m.handleStreamError)
		if err := mt.sess.Attach(mt.sink); err != nil {
			m.log.Warn("preview attach failed", "camera", mt.sess.CameraID(), "error", err)
		}
		if err := mt.sess.Play(); err != nil {
			m.log.Warn("preview play failed", "camera", mt.sess.CameraID(), "error", err)
		}
	}
	if reopen != "" {
		if err := m.switchTo(reopen); err != nil {
			m.log.Warn("reopen after directory change failed", "camera", reopen, "error", err)
		}
	} else if focused != "" {
		m.warmNeighbors(focused)
	}
}
