// Package session implements the decoder session, the reusable unit of live
// playback: one exclusively owned decode engine bound to at most one
// externally supplied sink, with automatic one-shot error recovery. The
// bounded warm pool of detached, pre-buffering sessions lives here too.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tkardel/camwall/engine"
	"github.com/tkardel/camwall/internal/clock"
)

// State is a decoder session's lifecycle state.
type State int

const (
	// StateIdle is the initial state: engine created, nothing loaded.
	StateIdle State = iota
	// StateLoading covers manifest and initial segment loading.
	StateLoading
	// StateLive is attached and playing.
	StateLive
	// StatePaused is attached with the playback clock halted.
	StatePaused
	// StateDetached keeps the decode pipeline running with no sink bound.
	StateDetached
	// StateError is a persistent failure surfaced after recovery failed.
	StateError
	// StateDestroyed is terminal; the engine handle has been released.
	StateDestroyed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StatePaused:
		return "paused"
	case StateDetached:
		return "detached"
	case StateError:
		return "error"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Config holds the session timing knobs.
type Config struct {
	// ErrorGrace is how long a fatal error may stay uncleared after the
	// automatic recovery attempt before it surfaces as a StreamError.
	ErrorGrace time.Duration
	// SeekCooldown marks the session as seeking after a live-sync
	// correction, suppressing overlapping corrections.
	SeekCooldown time.Duration
}

// DefaultConfig returns the standard session timing.
func DefaultConfig() Config {
	return Config{
		ErrorGrace:   2 * time.Second,
		SeekCooldown: 600 * time.Millisecond,
	}
}

// Session owns one decode engine for one camera's live stream. All methods
// are safe for concurrent use. The engine handle is released only by
// Destroy.
type Session struct {
	cameraID string
	addr     string
	log      *slog.Logger
	clk      clock.Clock
	cfg      Config
	eng      engine.Engine
	sub      *engine.Subscription

	loadCtx    context.Context
	loadCancel context.CancelFunc

	mu               sync.Mutex
	state            State
	sink             Sink
	playing          bool
	createdAt        time.Time
	lastCorrectionAt time.Time
	seekingUntil     time.Time
	recoveryTried    map[engine.ErrorClass]bool
	graceTimer       clock.Timer
	lastFatal        error
	onError          func(*StreamError)
	nextReady        int
	readyFns         map[int]func()
}

// New creates a Session owning eng for cameraID. If clk is nil the system
// clock is used; if log is nil, slog.Default().
func New(cameraID, addr string, eng engine.Engine, clk clock.Clock, cfg Config, log *slog.Logger) *Session {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cameraID:      cameraID,
		addr:          addr,
		log:           log.With("component", "session", "camera", cameraID),
		clk:           clk,
		cfg:           cfg,
		eng:           eng,
		loadCtx:       ctx,
		loadCancel:    cancel,
		state:         StateIdle,
		createdAt:     clk.Now(),
		recoveryTried: make(map[engine.ErrorClass]bool),
		readyFns:      make(map[int]func()),
	}
	s.sub = eng.Subscribe(s.handleEvent)
	return s
}

// CameraID returns the camera this session decodes.
func (s *Session) CameraID() string { return s.cameraID }

// Addr returns the stream address the session was created against.
func (s *Session) Addr() string { return s.addr }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// AttachedSink returns the currently bound sink, or nil.
func (s *Session) AttachedSink() Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Engine exposes the owned engine for live-sync position queries. Callers
// must not Close it; ownership stays with the session.
func (s *Session) Engine() engine.Engine { return s.eng }

// OnStreamError registers the callback invoked when a fatal error survives
// recovery and the grace window. The callback runs without session locks.
func (s *Session) OnStreamError(fn func(*StreamError)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Attach binds the session's output to sink. Attaching while a different
// sink is bound fails with ErrAlreadyAttached; the same sink is a no-op.
// From Idle, attaching starts manifest loading.
func (s *Session) Attach(sink Sink) error {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.sink != nil && s.sink.ID() != sink.ID() {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.sink = sink

	startLoad := false
	switch s.state {
	case StateIdle:
		s.state = StateLoading
		startLoad = true
	case StateDetached:
		if s.playing {
			s.state = StateLive
		} else {
			s.state = StatePaused
		}
	}
	s.log.Debug("sink attached", "sink", sink.ID(), "hidden", sink.Hidden(), "state", s.state.String())
	s.mu.Unlock()

	if startLoad {
		if err := s.eng.Load(s.loadCtx); err != nil {
			s.log.Warn("engine load failed", "error", err)
		}
	} else {
		// A reused pipeline may already be buffering; let waiters resolve
		// without a fresh engine signal.
		s.fireReadyIfBuffered()
	}
	return nil
}

// Detach unbinds the current sink without touching the decode pipeline.
// Live or Paused sessions become Detached. Idempotent.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed || s.sink == nil {
		return
	}
	sinkID := s.sink.ID()
	s.sink = nil
	if s.state == StateLive || s.state == StatePaused {
		s.state = StateDetached
	}
	s.log.Debug("sink detached", "sink", sinkID, "state", s.state.String())
}

// Play starts or resumes playback.
func (s *Session) Play() error {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.playing = true
	if s.state == StatePaused {
		s.state = StateLive
	}
	s.mu.Unlock()

	s.eng.Play()
	return nil
}

// Pause halts playback without releasing anything.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.playing = false
	if s.state == StateLive {
		s.state = StatePaused
	}
	s.mu.Unlock()

	s.eng.Pause()
	return nil
}

// Destroy releases the engine handle and all timers. Valid from any state;
// subsequent operations fail with ErrDestroyed. Idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateDestroyed
	s.sink = nil
	s.readyFns = make(map[int]func())
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.mu.Unlock()

	s.loadCancel()
	s.sub.Cancel()
	if err := s.eng.Close(); err != nil {
		s.log.Warn("engine close failed", "error", err)
	}
	s.log.Debug("session destroyed")
}

// OnReady registers a one-shot callback for the next first-frame or
// data-loaded signal. If the engine already has buffered data, fn runs
// immediately on the calling goroutine. The returned cancel removes a
// pending callback.
func (s *Session) OnReady(fn func()) (cancel func()) {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return func() {}
	}
	if _, ok := s.eng.BufferedEnd(); ok {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	id := s.nextReady
	s.nextReady++
	s.readyFns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.readyFns, id)
		s.mu.Unlock()
	}
}

// Live reports whether the session is attached and playing, the condition
// for live-sync monitoring.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLive && s.sink != nil
}

// Seeking reports whether a corrective seek is still in its cooldown.
func (s *Session) Seeking(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.seekingUntil)
}

// LastCorrectionAt returns when the last live-sync correction was issued.
func (s *Session) LastCorrectionAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCorrectionAt
}

// BeginSeek issues a corrective seek to target and starts the seek cooldown.
func (s *Session) BeginSeek(target float64, now time.Time) {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.lastCorrectionAt = now
	s.seekingUntil = now.Add(s.cfg.SeekCooldown)
	s.mu.Unlock()

	s.eng.SeekTo(target)
	s.log.Debug("live-sync correction", "target", target)
}

// handleEvent runs on the engine's delivery goroutine.
func (s *Session) handleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventFirstFrame, engine.EventDataLoaded:
		s.handleProgress(true)
	case engine.EventFragmentBuffered:
		s.handleProgress(false)
	case engine.EventFatalError:
		s.handleFatal(ev)
	}
}

// handleProgress clears any pending failure window and, for the two named
// readiness signals, resolves ready waiters.
func (s *Session) handleProgress(ready bool) {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
		s.lastFatal = nil
		s.recoveryTried = make(map[engine.ErrorClass]bool)
		s.log.Info("fatal error cleared by recovery")
	}
	if s.state == StateLoading {
		switch {
		case s.sink == nil:
			s.state = StateDetached
		case s.playing:
			s.state = StateLive
		default:
			s.state = StatePaused
		}
	}
	var fns []func()
	if ready {
		for _, fn := range s.readyFns {
			fns = append(fns, fn)
		}
		s.readyFns = make(map[int]func())
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// handleFatal attempts one automatic recovery per error class, then arms the
// grace window; expiry surfaces a StreamError upward.
func (s *Session) handleFatal(ev engine.Event) {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.lastFatal = ev.Err
	attempt := !s.recoveryTried[ev.Class]
	if attempt {
		s.recoveryTried[ev.Class] = true
	}
	if s.graceTimer == nil {
		s.graceTimer = s.clk.AfterFunc(s.cfg.ErrorGrace, s.graceExpired)
	}
	s.mu.Unlock()

	s.log.Warn("fatal engine error", "class", ev.Class.String(), "error", ev.Err, "recovering", attempt)
	if !attempt {
		return
	}

	var err error
	if ev.Class == engine.ErrorClassMedia {
		err = s.eng.RecoverMedia()
	} else {
		err = s.eng.RestartLoad()
	}
	if err != nil {
		s.log.Warn("recovery attempt failed", "class", ev.Class.String(), "error", err)
	}
}

// graceExpired fires when a fatal error was not cleared within the grace
// window. The session parks in StateError and the error propagates upward.
func (s *Session) graceExpired() {
	s.mu.Lock()
	if s.state == StateDestroyed || s.graceTimer == nil {
		s.mu.Unlock()
		return
	}
	s.graceTimer = nil
	if s.state == StateLoading || s.state == StateLive {
		s.state = StateError
	}
	serr := &StreamError{CameraID: s.cameraID, Cause: s.lastFatal}
	fn := s.onError
	s.mu.Unlock()

	s.log.Error("persistent stream error", "error", serr.Cause)
	if fn != nil {
		fn(serr)
	}
}

// fireReadyIfBuffered resolves ready waiters when the engine already holds
// buffered data, covering sessions reused across sinks.
func (s *Session) fireReadyIfBuffered() {
	if _, ok := s.eng.BufferedEnd(); !ok {
		return
	}
	s.mu.Lock()
	var fns []func()
	for _, fn := range s.readyFns {
		fns = append(fns, fn)
	}
	s.readyFns = make(map[int]func())
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
