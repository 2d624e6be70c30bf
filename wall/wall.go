// Package wall coordinates the focused camera surface, the warm session
// pool, and the preview tiles. Its centerpiece is the double-buffered
// handoff: when the focused camera changes, the outgoing stream keeps
// rendering on the old surface while the incoming one buffers against a
// fresh surface, and the swap happens only once the incoming stream is
// playable or a deadline forces it.
package wall

import (
	"errors"
	"time"

	"github.com/tkardel/camwall/session"
)

// EventKind identifies a wall event.
type EventKind int

const (
	// EventActiveChanged fires when the focused surface swaps to a new
	// camera, or to none when the view closes.
	EventActiveChanged EventKind = iota
	// EventStreamError fires when a camera's stream error persisted past
	// its recovery attempts.
	EventStreamError
)

func (k EventKind) String() string {
	switch k {
	case EventActiveChanged:
		return "active_changed"
	case EventStreamError:
		return "stream_error"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on wall state changes.
type Event struct {
	Kind     EventKind
	CameraID string
	Message  string
}

var (
	// ErrShutdown is returned by operations after Shutdown.
	ErrShutdown = errors.New("wall: manager shut down")
	// ErrUnknownCamera is returned when the camera id is not in the directory.
	ErrUnknownCamera = errors.New("wall: unknown camera")
	// ErrOutsideOrder is returned when traversal is requested from a camera
	// that is not part of the navigation order.
	ErrOutsideOrder = errors.New("wall: camera not in navigation order")
	// ErrNoFocusedCamera is returned by Next and Prev when no camera is focused.
	ErrNoFocusedCamera = errors.New("wall: no focused camera")
	// ErrPreviewOpen is returned when a preview for the camera is already open.
	ErrPreviewOpen = errors.New("wall: preview already open")
)

// Config carries the wall timing knobs.
type Config struct {
	// WarmCapacity bounds the warm session pool.
	WarmCapacity int
	// Escalation is how long a handoff may sit without a playable incoming
	// stream before the driver is forcibly reattached.
	Escalation time.Duration
	// HardFinalize is the deadline after which a handoff finalizes no
	// matter what, so the surface is never stuck on a stale camera.
	HardFinalize time.Duration
	// Session configures per-session error grace and seek cooldown.
	Session session.Config
}

// DefaultConfig returns the production wall timings.
func DefaultConfig() Config {
	return Config{
		WarmCapacity: session.DefaultWarmCapacity,
		Escalation:   2200 * time.Millisecond,
		HardFinalize: 4 * time.Second,
		Session:      session.DefaultConfig(),
	}
}
