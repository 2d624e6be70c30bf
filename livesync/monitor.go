// Package livesync keeps attached-and-playing sessions pinned near the
// broadcast head. Live decode buffers drift behind as segments queue; small
// rate-limited corrective seeks pull the viewer back to "now" without the
// judder of over-eager correction.
package livesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/tkardel/camwall/engine"
)

// Policy holds the correction thresholds.
type Policy struct {
	// MaxLag is the largest tolerated distance behind the live edge, in
	// seconds, before a correction fires.
	MaxLag float64
	// SafetyMargin is subtracted from the buffered end when the engine has
	// no live-sync hint, so a seek never lands past available data.
	SafetyMargin float64
	// MinInterval is the minimum spacing between two corrections for the
	// same session.
	MinInterval time.Duration
}

// DefaultPolicy returns the standard correction thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxLag:       1.5,
		SafetyMargin: 0.5,
		MinInterval:  800 * time.Millisecond,
	}
}

// DefaultInterval is the monitor's polling cadence.
const DefaultInterval = 800 * time.Millisecond

// Target is a session as seen by the monitor: position queries through its
// engine plus the session-side correction bookkeeping.
type Target interface {
	CameraID() string
	Live() bool
	Seeking(now time.Time) bool
	LastCorrectionAt() time.Time
	BeginSeek(target float64, now time.Time)
	Engine() engine.Engine
}

// Monitor polls every live session on a fixed interval and issues corrective
// seeks per Policy. The session set is supplied fresh each tick, so sessions
// join and leave monitoring simply by changing state.
type Monitor struct {
	log      *slog.Logger
	policy   Policy
	interval time.Duration
	targets  func() []Target
	onSeek   func(cameraID string)
}

// NewMonitor creates a Monitor polling the sessions returned by targets.
// onSeek, if non-nil, observes every issued correction.
func NewMonitor(policy Policy, interval time.Duration, targets func() []Target, onSeek func(cameraID string)) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		log:      slog.With("component", "live-sync"),
		policy:   policy,
		interval: interval,
		targets:  targets,
		onSeek:   onSeek,
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("live-sync monitor started", "interval", m.interval, "max_lag", m.policy.MaxLag)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("live-sync monitor stopped")
			return nil
		case now := <-ticker.C:
			m.Tick(now)
		}
	}
}

// Tick runs one correction pass at the given instant.
func (m *Monitor) Tick(now time.Time) {
	for _, t := range m.targets() {
		m.correct(t, now)
	}
}

// correct applies the policy to one session. No correction is issued while
// the session is paused or detached, while no target is computable, while a
// seek is in flight, or within MinInterval of the previous correction.
func (m *Monitor) correct(t Target, now time.Time) {
	if !t.Live() || t.Seeking(now) {
		return
	}

	target, ok := m.targetPosition(t.Engine())
	if !ok {
		return
	}

	pos := t.Engine().Position()
	lag := target - pos
	if lag <= m.policy.MaxLag {
		return
	}
	if now.Sub(t.LastCorrectionAt()) < m.policy.MinInterval {
		return
	}

	t.BeginSeek(target, now)
	m.log.Debug("corrected to live edge", "camera", t.CameraID(), "lag", lag, "target", target)
	if m.onSeek != nil {
		m.onSeek(t.CameraID())
	}
}

// targetPosition prefers the engine's own live-sync hint, falling back to
// the buffered trailing edge minus the safety margin.
func (m *Monitor) targetPosition(e engine.Engine) (float64, bool) {
	if hint, ok := e.LiveSyncPosition(); ok {
		return hint, true
	}
	end, ok := e.BufferedEnd()
	if !ok {
		return 0, false
	}
	target := end - m.policy.SafetyMargin
	if target <= 0 {
		return 0, false
	}
	return target, true
}
