// Package hlsfeed implements engine.Engine over HTTP Live Streaming. It
// follows a media playlist (resolving master playlists to their top-
// bandwidth variant), tracks the live edge from segment durations, and
// models playback as a clock running along the buffered timeline. No
// segment payloads are fetched; the wall only needs timeline signals.
package hlsfeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/tkardel/camwall/engine"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxFailures  = 3
	// defaultHoldBack mirrors the usual live playback hold-back of three
	// target durations behind the newest segment.
	defaultHoldBack = 3
)

// Options tunes the playlist follower.
type Options struct {
	// Client performs playlist fetches. Nil uses a 10s-timeout client.
	Client *http.Client
	// PollInterval between playlist refreshes. Zero uses the default.
	PollInterval time.Duration
	// MaxFailures is how many consecutive fetch failures are tolerated
	// before a network-class fatal error is published.
	MaxFailures int
	// HoldBackTargets is the live-sync distance from the edge, in target
	// durations.
	HoldBackTargets int
	Log             *slog.Logger
}

// Factory mints HLS engines for camera stream addresses.
type Factory struct {
	opts Options
}

// NewFactory creates a Factory with the given options.
func NewFactory(opts Options) *Factory {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultMaxFailures
	}
	if opts.HoldBackTargets <= 0 {
		opts.HoldBackTargets = defaultHoldBack
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Factory{opts: opts}
}

// New returns an Engine following streamAddress. The stream is not touched
// until Load.
func (f *Factory) New(cameraID, streamAddress string) (engine.Engine, error) {
	if _, err := url.Parse(streamAddress); err != nil {
		return nil, fmt.Errorf("stream address for %s: %w", cameraID, err)
	}
	return &Engine{
		cameraID: cameraID,
		addr:     streamAddress,
		opts:     f.opts,
		log:      f.opts.Log.With("component", "hlsfeed", "camera", cameraID),
		hub:      engine.NewHub(),
	}, nil
}

// Engine is one followed HLS stream.
type Engine struct {
	cameraID string
	addr     string
	opts     Options
	log      *slog.Logger
	hub      *engine.Hub

	mu        sync.Mutex
	closed    bool
	playing   bool
	parent    context.Context
	cancel    context.CancelFunc
	mediaURL  string
	lastSeq   uint64
	haveSeq   bool
	liveEdge  float64
	targetDur float64
	haveData  bool
	failures  int
	// playback clock: position = basePos + wall time since baseAt while
	// playing, clamped to the live edge.
	basePos float64
	baseAt  time.Time
}

// Load resolves the playlist and starts the follow loop. The loop stops
// when ctx is cancelled or the engine is closed.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("hlsfeed: engine closed")
	}
	if e.cancel != nil {
		e.mu.Unlock()
		return nil
	}
	e.parent = ctx
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	go e.follow(runCtx)
	return nil
}

func (e *Engine) follow(ctx context.Context) {
	first := true
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := e.refresh(ctx, first); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.mu.Lock()
			e.failures++
			failures := e.failures
			e.mu.Unlock()
			e.log.Warn("playlist refresh failed", "failures", failures, "error", err)
			if failures >= e.opts.MaxFailures {
				e.hub.Publish(engine.Event{
					Kind:  engine.EventFatalError,
					Class: engine.ErrorClassNetwork,
					Err:   fmt.Errorf("playlist unreachable after %d attempts: %w", failures, err),
				})
				return
			}
		} else {
			first = false
			e.mu.Lock()
			e.failures = 0
			e.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refresh fetches the playlist once and publishes timeline signals for any
// new segments.
func (e *Engine) refresh(ctx context.Context, first bool) error {
	e.mu.Lock()
	target := e.mediaURL
	e.mu.Unlock()
	if target == "" {
		target = e.addr
	}

	media, resolved, err := e.fetchMedia(ctx, target)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.mediaURL = resolved

	var added float64
	newSegments := 0
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if e.haveSeq && seg.SeqId <= e.lastSeq {
			continue
		}
		e.lastSeq = seg.SeqId
		e.haveSeq = true
		added += seg.Duration
		newSegments++
	}
	e.liveEdge += added
	if media.TargetDuration > 0 {
		e.targetDur = media.TargetDuration
	}
	firstData := !e.haveData && newSegments > 0
	if newSegments > 0 {
		e.haveData = true
	}
	edge := e.liveEdge
	e.mu.Unlock()

	if first {
		e.hub.Publish(engine.Event{Kind: engine.EventDataLoaded})
	}
	if firstData {
		// The decode pipeline presents its first picture once at least one
		// segment is available.
		e.hub.Publish(engine.Event{Kind: engine.EventFirstFrame})
	}
	if newSegments > 0 {
		e.log.Debug("segments buffered", "count", newSegments, "live_edge", edge)
		e.hub.Publish(engine.Event{Kind: engine.EventFragmentBuffered})
	}
	return nil
}

// fetchMedia fetches target, following one master-to-variant hop by picking
// the highest-bandwidth variant.
func (e *Engine) fetchMedia(ctx context.Context, target string) (*m3u8.MediaPlaylist, string, error) {
	for hop := 0; hop < 2; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := e.opts.Client.Do(req)
		if err != nil {
			return nil, "", err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("playlist fetch: %s", resp.Status)
		}
		playlist, kind, err := m3u8.DecodeFrom(resp.Body, true)
		resp.Body.Close()
		if err != nil {
			return nil, "", fmt.Errorf("playlist decode: %w", err)
		}

		switch kind {
		case m3u8.MEDIA:
			return playlist.(*m3u8.MediaPlaylist), target, nil
		case m3u8.MASTER:
			master := playlist.(*m3u8.MasterPlaylist)
			variant := pickVariant(master)
			if variant == nil {
				return nil, "", fmt.Errorf("master playlist has no variants")
			}
			next, err := resolveURL(target, variant.URI)
			if err != nil {
				return nil, "", err
			}
			e.log.Debug("selected variant", "bandwidth", variant.Bandwidth, "uri", next)
			target = next
		default:
			return nil, "", fmt.Errorf("unsupported playlist type")
		}
	}
	return nil, "", fmt.Errorf("master playlist points at another master")
}

func pickVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// Play starts the playback clock.
func (e *Engine) Play() {
	e.mu.Lock()
	if !e.playing {
		e.basePos = e.positionLocked(time.Now())
		e.baseAt = time.Now()
		e.playing = true
	}
	e.mu.Unlock()
}

// Pause freezes the playback clock.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.playing {
		e.basePos = e.positionLocked(time.Now())
		e.playing = false
	}
	e.mu.Unlock()
}

// Position returns the playback clock in seconds of stream time.
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked(time.Now())
}

func (e *Engine) positionLocked(now time.Time) float64 {
	if !e.playing {
		return e.basePos
	}
	pos := e.basePos + now.Sub(e.baseAt).Seconds()
	if pos > e.liveEdge {
		pos = e.liveEdge
	}
	return pos
}

// SeekTo jumps the playback clock.
func (e *Engine) SeekTo(pos float64) {
	e.mu.Lock()
	if pos > e.liveEdge {
		pos = e.liveEdge
	}
	if pos < 0 {
		pos = 0
	}
	e.basePos = pos
	e.baseAt = time.Now()
	e.mu.Unlock()
}

// BufferedEnd returns the live edge of the followed timeline.
func (e *Engine) BufferedEnd() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveEdge, e.haveData
}

// LiveSyncPosition returns the preferred playback point, a few target
// durations behind the newest segment.
func (e *Engine) LiveSyncPosition() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveData || e.targetDur <= 0 {
		return 0, false
	}
	pos := e.liveEdge - float64(e.opts.HoldBackTargets)*e.targetDur
	if pos < 0 {
		pos = 0
	}
	return pos, true
}

// RecoverMedia snaps the playback clock to the live-sync point, the
// equivalent of flushing a wedged decode buffer.
func (e *Engine) RecoverMedia() error {
	if pos, ok := e.LiveSyncPosition(); ok {
		e.SeekTo(pos)
	}
	e.log.Info("media recovery, clock snapped to live sync")
	return nil
}

// RestartLoad tears the follow loop down and starts it over with fresh
// failure accounting.
func (e *Engine) RestartLoad() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("hlsfeed: engine closed")
	}
	if e.cancel != nil {
		e.cancel()
	}
	parent := e.parent
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.failures = 0
	e.mediaURL = ""
	e.mu.Unlock()

	e.log.Info("restarting playlist follow")
	go e.follow(runCtx)
	return nil
}

// Subscribe registers h for timeline and error events.
func (e *Engine) Subscribe(h engine.Handler) *engine.Subscription {
	return e.hub.Subscribe(h)
}

// Close stops the follow loop. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}
