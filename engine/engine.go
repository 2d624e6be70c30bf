// Package engine defines the decode-engine contract that a camera session
// owns: loading a live stream from an opaque address, reporting playback
// position and buffered range, and delivering named signals (first frame,
// data loaded, fragment buffered, fatal error) through explicit
// subscriptions that can be cancelled deterministically on teardown.
package engine

import "context"

// EventKind identifies a signal emitted by a decode engine.
type EventKind int

const (
	// EventFirstFrame fires when the engine has rendered (or, for headless
	// engines, begun advancing through) its first decodable data.
	EventFirstFrame EventKind = iota
	// EventDataLoaded fires once the stream's manifest and initial data
	// have been fetched.
	EventDataLoaded
	// EventFragmentBuffered fires each time a new media fragment lands in
	// the engine's buffer.
	EventFragmentBuffered
	// EventFatalError fires when decoding cannot continue without a
	// recovery attempt. Class distinguishes the recovery path.
	EventFatalError
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventFirstFrame:
		return "first-frame"
	case EventDataLoaded:
		return "data-loaded"
	case EventFragmentBuffered:
		return "fragment-buffered"
	case EventFatalError:
		return "fatal-error"
	default:
		return "unknown"
	}
}

// ErrorClass partitions fatal errors by the recovery appropriate to them.
type ErrorClass int

const (
	// ErrorClassMedia covers decode-level faults recovered in place.
	ErrorClassMedia ErrorClass = iota
	// ErrorClassNetwork covers manifest or segment fetch faults recovered
	// by reloading the segment stream.
	ErrorClassNetwork
)

// String returns the error class name for logging.
func (c ErrorClass) String() string {
	if c == ErrorClassNetwork {
		return "network"
	}
	return "media"
}

// Event is a single signal delivered to subscribers. Class and Err are set
// only for EventFatalError.
type Event struct {
	Kind  EventKind
	Class ErrorClass
	Err   error
}

// Handler receives engine events. Handlers run on the engine's delivery
// goroutine and must not block.
type Handler func(Event)

// Engine is one decode pipeline bound to one live stream address. An Engine
// is exclusively owned by its session; Close releases the pipeline and is
// the only way it is ever released.
type Engine interface {
	// Load begins manifest and segment loading. It returns once loading has
	// been initiated; progress is reported via events.
	Load(ctx context.Context) error

	// Play starts (or resumes) the playback clock.
	Play()
	// Pause halts the playback clock without releasing the pipeline.
	Pause()

	// Position returns the current playback position in seconds.
	Position() float64
	// SeekTo moves the playback position, clamped to available data.
	SeekTo(pos float64)

	// BufferedEnd returns the trailing edge of the buffered range in
	// seconds, and whether any data is buffered at all.
	BufferedEnd() (float64, bool)
	// LiveSyncPosition returns the engine's own live-edge target when it
	// can compute one.
	LiveSyncPosition() (float64, bool)

	// RecoverMedia attempts in-place recovery from a media-class fatal error.
	RecoverMedia() error
	// RestartLoad attempts recovery from a network-class fatal error by
	// reloading the segment stream.
	RestartLoad() error

	// Subscribe registers a handler for engine events.
	Subscribe(h Handler) *Subscription

	// Close releases the decode pipeline. Idempotent.
	Close() error
}

// Factory creates engines for stream addresses. Addresses are opaque to the
// caller and consumed as-is by the engine implementation.
type Factory interface {
	New(cameraID, streamAddress string) (Engine, error)
}
