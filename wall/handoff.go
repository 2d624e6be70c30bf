package wall

import (
	"time"

	"github.com/tkardel/camwall/internal/clock"
	"github.com/tkardel/camwall/session"
)

// resolutionKind records where a handoff's driving session came from.
type resolutionKind int

const (
	// resolutionReused took an existing session already decoding the target
	// camera, from the visible surface, a preview tile, or a superseded
	// handoff. Reused sessions are never destroyed by the handoff.
	resolutionReused resolutionKind = iota
	// resolutionFromPool checked a warmed session out of the pool.
	resolutionFromPool
	// resolutionCreated built a fresh session from the directory address.
	resolutionCreated
)

func (k resolutionKind) String() string {
	switch k {
	case resolutionReused:
		return "reused"
	case resolutionFromPool:
		return "pool"
	case resolutionCreated:
		return "created"
	default:
		return "unknown"
	}
}

const (
	triggerFirstFrame = "first_frame"
	triggerHard       = "hard_deadline"
)

// handoff is one in-flight focused-surface swap. The incoming session
// buffers against sink while the previous surface keeps rendering; finalize
// performs the swap exactly once, on readiness or on the hard deadline.
type handoff struct {
	target    string
	sink      session.Sink
	sess      *session.Session
	kind      resolutionKind
	startedAt time.Time

	escTimer    clock.Timer
	hardTimer   clock.Timer
	readyCancel func()
	escalated   bool
	done        bool
	superseded  bool
}

// supersedeLocked marks the handoff dead and cancels its timers and ready
// callback so a stale finalize can never fire. Caller holds the manager lock.
func (h *handoff) supersedeLocked() {
	h.superseded = true
	if h.escTimer != nil {
		h.escTimer.Stop()
	}
	if h.hardTimer != nil {
		h.hardTimer.Stop()
	}
	if h.readyCancel != nil {
		h.readyCancel()
		h.readyCancel = nil
	}
}

type beginResult struct {
	h              *handoff
	attach         *session.Session
	cleanup        []*session.Session
	created        bool
	alreadyVisible bool
	superseded     bool
}

func (m *Manager) switchTo(id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if _, ok := m.dir.Lookup(id); !ok {
		m.mu.Unlock()
		return ErrUnknownCamera
	}
	res := m.beginHandoffLocked(id)
	m.mu.Unlock()

	for _, s := range res.cleanup {
		s.Destroy()
		m.metrics.RecordSessionDestroyed()
	}
	if res.alreadyVisible {
		if res.superseded {
			m.emit(Event{Kind: EventActiveChanged, CameraID: id})
		}
		return nil
	}
	if res.h == nil {
		m.log.Info("open pending, no stream address yet", "camera", id)
		return nil
	}
	if res.created {
		m.metrics.RecordSessionCreated()
	}
	if res.attach != nil {
		res.attach.OnStreamError(m.handleStreamError)
		res.attach.Detach()
		if err := res.attach.Attach(res.h.sink); err != nil {
			m.log.Warn("handoff attach failed", "camera", id, "error", err)
		}
		if err := res.attach.Play(); err != nil {
			m.log.Warn("handoff play failed", "camera", id, "error", err)
		}
		m.registerReady(res.h, res.attach)
	}
	return nil
}

// beginHandoffLocked supersedes any pending handoff, resolves a driving
// session for the target, mounts a fresh surface, and arms the escalation
// and hard finalize timers. Session teardown and attachment are deferred to
// the caller; sessions can call back synchronously and must not be driven
// under the manager lock.
func (m *Manager) beginHandoffLocked(target string) beginResult {
	var res beginResult
	m.focusedOpen = true
	m.focused = target

	var leftover *session.Session
	if cur := m.current; cur != nil {
		cur.supersedeLocked()
		m.unmountLocked(cur.sink)
		leftover = cur.sess
		m.current = nil
		res.superseded = true
		m.log.Info("handoff superseded", "from", cur.target, "to", target)
	}

	addr, haveAddr := m.dir.Resolve(target)
	fresh := func(s *session.Session) bool { return haveAddr && s.Addr() == addr }

	// Already showing the target on the visible surface: nothing to swap.
	if m.visibleSess != nil && m.visibleSess.CameraID() == target && fresh(m.visibleSess) {
		if leftover != nil && leftover != m.visibleSess {
			res.cleanup = append(res.cleanup, leftover)
		}
		res.alreadyVisible = true
		return res
	}

	if !haveAddr {
		// Directory miss. The focus intent is recorded; the next directory
		// update that brings an address reopens the camera.
		if leftover != nil && leftover != m.visibleSess {
			res.cleanup = append(res.cleanup, leftover)
		}
		return res
	}

	var sess *session.Session
	kind := resolutionCreated
	if leftover != nil && leftover.CameraID() == target && fresh(leftover) {
		sess, kind = leftover, resolutionReused
		leftover = nil
	} else if p, ok := m.previews[target]; ok && p.sess != nil && fresh(p.sess) {
		sess, kind = p.sess, resolutionReused
		delete(m.previews, target)
		m.unmountLocked(p.sink)
	} else if pooled := m.pool.Checkout(target); pooled != nil {
		if fresh(pooled) {
			sess, kind = pooled, resolutionFromPool
		} else {
			res.cleanup = append(res.cleanup, pooled)
		}
	}
	if sess == nil {
		eng, err := m.engines.New(target, addr)
		if err != nil {
			// No driver yet. The handoff still runs so the hard deadline
			// surfaces the failure; escalation retries the create.
			m.log.Error("engine create failed", "camera", target, "error", err)
		} else {
			sess = session.New(target, addr, eng, m.clk, m.cfg.Session, m.log)
			res.created = true
		}
	}
	if leftover != nil && leftover != m.visibleSess {
		res.cleanup = append(res.cleanup, leftover)
	}

	sink := m.sinks.NewSink(false)
	m.mounted[sink.ID()] = sink

	h := &handoff{
		target:    target,
		sink:      sink,
		sess:      sess,
		kind:      kind,
		startedAt: m.clk.Now(),
	}
	h.escTimer = m.clk.AfterFunc(m.cfg.Escalation, func() { m.escalate(h) })
	h.hardTimer = m.clk.AfterFunc(m.cfg.HardFinalize, func() { m.finalize(h, triggerHard) })
	m.current = h

	res.h = h
	res.attach = sess
	m.log.Info("handoff started", "camera", target, "resolution", kind)
	return res
}

// registerReady arranges for the handoff to finalize when its driving
// session first becomes playable. OnReady may fire synchronously for a
// warmed session that already buffered, so it runs outside the manager lock.
func (m *Manager) registerReady(h *handoff, sess *session.Session) {
	cancel := sess.OnReady(func() { m.finalize(h, triggerFirstFrame) })
	m.mu.Lock()
	if h.done || h.superseded {
		m.mu.Unlock()
		cancel()
		return
	}
	h.readyCancel = cancel
	m.mu.Unlock()
}

// escalate fires when the handoff sat past the escalation deadline without
// readiness. The driver is forcibly reattached; if the handoff has no driver
// at all the create is retried.
func (m *Manager) escalate(h *handoff) {
	m.mu.Lock()
	if h.done || h.superseded || m.current != h {
		m.mu.Unlock()
		return
	}
	h.escalated = true
	sess := h.sess
	sink := h.sink
	var created *session.Session
	if sess == nil {
		if addr, ok := m.dir.Resolve(h.target); ok {
			if eng, err := m.engines.New(h.target, addr); err == nil {
				created = session.New(h.target, addr, eng, m.clk, m.cfg.Session, m.log)
				h.sess = created
				h.kind = resolutionCreated
				sess = created
			} else {
				m.log.Error("engine create retry failed", "camera", h.target, "error", err)
			}
		}
	}
	m.mu.Unlock()

	m.metrics.RecordEscalation()
	if sess == nil {
		return
	}
	m.log.Warn("handoff stuck, reattaching driver", "camera", h.target)
	if created != nil {
		m.metrics.RecordSessionCreated()
		created.OnStreamError(m.handleStreamError)
	}
	sess.Detach()
	if err := sess.Attach(sink); err != nil {
		m.log.Warn("escalation attach failed", "camera", h.target, "error", err)
	}
	if err := sess.Play(); err != nil {
		m.log.Warn("escalation play failed", "camera", h.target, "error", err)
	}
	if created != nil {
		m.registerReady(h, created)
	}
}

// finalize performs the surface swap exactly once: the incoming sink
// becomes visible, the outgoing surface is unmounted, and the previous
// session is destroyed unless the handoff reused it.
func (m *Manager) finalize(h *handoff, trigger string) {
	m.mu.Lock()
	if h.done || h.superseded {
		m.mu.Unlock()
		return
	}
	h.done = true
	if h.escTimer != nil {
		h.escTimer.Stop()
	}
	if h.hardTimer != nil {
		h.hardTimer.Stop()
	}
	readyCancel := h.readyCancel
	h.readyCancel = nil

	prevSink := m.visibleSink
	prevSess := m.visibleSess
	m.visibleSink = h.sink
	m.visibleSess = h.sess
	m.unmountLocked(prevSink)
	m.current = nil

	elapsed := m.clk.Now().Sub(h.startedAt)
	established := trigger == triggerFirstFrame
	if !established && h.sess != nil {
		if _, ok := h.sess.Engine().BufferedEnd(); ok {
			established = true
		}
	}
	m.mu.Unlock()

	if readyCancel != nil {
		readyCancel()
	}
	if prevSess != nil && prevSess != h.sess {
		prevSess.Destroy()
		m.metrics.RecordSessionDestroyed()
	}
	m.metrics.RecordHandoff(trigger, elapsed.Seconds())
	m.log.Info("handoff finalized",
		"camera", h.target, "trigger", trigger,
		"resolution", h.kind, "elapsed", elapsed, "escalated", h.escalated)
	m.emit(Event{Kind: EventActiveChanged, CameraID: h.target})
	if !established {
		m.metrics.RecordStreamError(h.target)
		m.emit(Event{Kind: EventStreamError, CameraID: h.target,
			Message: "handoff deadline passed without a playable stream"})
	}
	m.warmNeighbors(h.target)
}
