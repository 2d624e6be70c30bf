package wall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tkardel/camwall/directory"
	"github.com/tkardel/camwall/engine"
	"github.com/tkardel/camwall/internal/clock"
	"github.com/tkardel/camwall/internal/metrics"
	"github.com/tkardel/camwall/nav"
	"github.com/tkardel/camwall/session"
)

// fakeEngine implements engine.Engine with scriptable events and buffering.
type fakeEngine struct {
	hub *engine.Hub

	mu          sync.Mutex
	loadCalls   int
	playing     bool
	closed      bool
	buffered    float64
	hasBuffered bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{hub: engine.NewHub()}
}

func (f *fakeEngine) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	return nil
}

func (f *fakeEngine) Play()  { f.mu.Lock(); f.playing = true; f.mu.Unlock() }
func (f *fakeEngine) Pause() { f.mu.Lock(); f.playing = false; f.mu.Unlock() }

func (f *fakeEngine) Position() float64 { return 0 }
func (f *fakeEngine) SeekTo(float64)    {}

func (f *fakeEngine) BufferedEnd() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered, f.hasBuffered
}

func (f *fakeEngine) LiveSyncPosition() (float64, bool) { return 0, false }
func (f *fakeEngine) RecoverMedia() error               { return nil }
func (f *fakeEngine) RestartLoad() error                { return nil }

func (f *fakeEngine) Subscribe(h engine.Handler) *engine.Subscription { return f.hub.Subscribe(h) }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEngine) setBuffered(end float64) {
	f.mu.Lock()
	f.buffered = end
	f.hasBuffered = true
	f.mu.Unlock()
}

// ready buffers data and announces the first frame, making any session on
// this engine playable.
func (f *fakeEngine) ready() {
	f.setBuffered(10)
	f.hub.Publish(engine.Event{Kind: engine.EventFirstFrame})
}

// fakeFactory records every engine it mints, keyed by camera.
type fakeFactory struct {
	mu      sync.Mutex
	engines map[string][]*fakeEngine
	fail    map[string]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{engines: make(map[string][]*fakeEngine), fail: make(map[string]error)}
}

func (f *fakeFactory) New(cameraID, streamAddress string) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[cameraID]; err != nil {
		return nil, err
	}
	e := newFakeEngine()
	f.engines[cameraID] = append(f.engines[cameraID], e)
	return e, nil
}

func (f *fakeFactory) made(cameraID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines[cameraID])
}

func (f *fakeFactory) last(cameraID string) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.engines[cameraID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *fakeFactory) at(cameraID string, i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[cameraID][i]
}

func addrFor(id string) string { return "https://cams.test/" + id + "/index.m3u8" }

type fixture struct {
	clk     *clock.Fake
	dir     *directory.Directory
	factory *fakeFactory
	m       *Manager
}

func newFixture(t *testing.T, order []string) *fixture {
	t.Helper()

	dir := directory.New(nil)
	var records []directory.Record
	for _, id := range order {
		records = append(records, directory.Record{ID: id, Title: "Cam " + id, StreamAddress: addrFor(id)})
	}
	dir.Replace(records)

	ring, err := nav.New(order)
	if err != nil {
		t.Fatalf("nav.New: %v", err)
	}

	f := &fixture{
		clk:     clock.NewFake(time.Unix(1756500000, 0)),
		dir:     dir,
		factory: newFakeFactory(),
	}
	f.m = New(Options{
		Directory: dir,
		Order:     ring,
		Engines:   f.factory,
		Clock:     f.clk,
		Config:    DefaultConfig(),
	})
	t.Cleanup(f.m.Shutdown)
	return f
}

// openAndEstablish opens id and drives its engine to the first frame so the
// handoff finalizes.
func (f *fixture) openAndEstablish(t *testing.T, id string) {
	t.Helper()
	if err := f.m.Open(id); err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	f.factory.last(id).ready()
	if st := f.m.Snapshot(); st.FocusedCamera != id || !st.Established || st.HandoffPending {
		t.Fatalf("after establishing %s: snapshot = %+v", id, st)
	}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestOpenEstablishesOnFirstFrame(t *testing.T) {
	f := newFixture(t, []string{"3429", "3498", "3416"})
	events, cancel := f.m.Subscribe()
	defer cancel()

	if err := f.m.Open("3429"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := f.m.Snapshot()
	if !st.FocusedOpen || st.FocusedCamera != "3429" {
		t.Fatalf("focus not recorded: %+v", st)
	}
	if !st.HandoffPending || st.Established {
		t.Fatalf("expected pending handoff before first frame: %+v", st)
	}
	if got := len(drain(events)); got != 0 {
		t.Fatalf("no events expected before finalize, got %d", got)
	}

	f.factory.last("3429").ready()

	st = f.m.Snapshot()
	if st.HandoffPending || !st.Established {
		t.Fatalf("expected finalized handoff: %+v", st)
	}
	if len(st.MountedSinks) != 1 {
		t.Fatalf("exactly one surface must remain mounted, got %v", st.MountedSinks)
	}
	evs := drain(events)
	if len(evs) != 1 || evs[0].Kind != EventActiveChanged || evs[0].CameraID != "3429" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestOpenUnknownCamera(t *testing.T) {
	f := newFixture(t, []string{"3429"})
	if err := f.m.Open("nope"); !errors.Is(err, ErrUnknownCamera) {
		t.Fatalf("err = %v, want ErrUnknownCamera", err)
	}
}

func TestSwitchKeepsOldSurfaceUntilReady(t *testing.T) {
	f := newFixture(t, []string{"a", "b", "c"})
	f.openAndEstablish(t, "a")
	engA := f.factory.last("a")

	if err := f.m.SwitchTo("b"); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	st := f.m.Snapshot()
	if !st.HandoffPending {
		t.Fatal("handoff must be pending until the incoming stream is playable")
	}
	if len(st.MountedSinks) != 2 {
		t.Fatalf("both surfaces stay mounted mid-handoff, got %v", st.MountedSinks)
	}
	if engA.isClosed() {
		t.Fatal("outgoing session must keep rendering until finalize")
	}

	f.factory.last("b").ready()

	st = f.m.Snapshot()
	if st.HandoffPending || st.FocusedCamera != "b" {
		t.Fatalf("snapshot after finalize = %+v", st)
	}
	if len(st.MountedSinks) != 1 {
		t.Fatalf("old surface must unmount at finalize, got %v", st.MountedSinks)
	}
	if !engA.isClosed() {
		t.Fatal("outgoing session must be destroyed at finalize")
	}
}

func TestSwitchToVisibleCameraIsNoop(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	f.openAndEstablish(t, "a")

	if err := f.m.SwitchTo("a"); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	st := f.m.Snapshot()
	if st.HandoffPending {
		t.Fatal("no handoff expected when the camera is already visible")
	}
	if got := f.factory.made("a"); got != 1 {
		t.Fatalf("engines for a = %d, want 1", got)
	}
	if len(st.MountedSinks) != 1 {
		t.Fatalf("mounted = %v", st.MountedSinks)
	}
}

func TestNextPrevTraversal(t *testing.T) {
	f := newFixture(t, []string{"3429", "3498", "3416", "3420", "4036"})
	f.openAndEstablish(t, "3429")

	id, err := f.m.Next()
	if err != nil || id != "3498" {
		t.Fatalf("Next = %q, %v", id, err)
	}
	f.factory.last("3498").ready()

	id, err = f.m.Prev()
	if err != nil || id != "3429" {
		t.Fatalf("Prev = %q, %v", id, err)
	}
}

func TestTraversalOutsideOrder(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	if _, err := f.m.Next(); !errors.Is(err, ErrNoFocusedCamera) {
		t.Fatalf("Next with nothing focused: %v", err)
	}

	// A camera in the directory but not in the navigation order can be
	// focused directly, yet Next and Prev refuse from there.
	f.dir.Merge([]directory.Record{{ID: "z", Title: "Cam z", StreamAddress: addrFor("z")}})
	if err := f.m.Open("z"); err != nil {
		t.Fatalf("Open(z): %v", err)
	}
	f.factory.last("z").ready()
	if _, err := f.m.Next(); !errors.Is(err, ErrOutsideOrder) {
		t.Fatalf("Next from outside the order: %v", err)
	}
	if st := f.m.Snapshot(); st.Traversable {
		t.Fatal("snapshot must flag the focused camera as non-traversable")
	}
}

func TestCloseDestroysFocusedAndPending(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	events, cancel := f.m.Subscribe()
	defer cancel()
	f.openAndEstablish(t, "a")
	if err := f.m.SwitchTo("b"); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	drain(events)

	f.m.Close()

	st := f.m.Snapshot()
	if st.FocusedOpen || st.FocusedCamera != "" || len(st.MountedSinks) != 0 {
		t.Fatalf("snapshot after close = %+v", st)
	}
	if !f.factory.last("a").isClosed() || !f.factory.last("b").isClosed() {
		t.Fatal("both the visible and the pending session must be destroyed")
	}

	evs := drain(events)
	if len(evs) != 1 || evs[0].Kind != EventActiveChanged || evs[0].CameraID != "" {
		t.Fatalf("events = %+v", evs)
	}

	// The superseded handoff's timers must be dead.
	f.clk.Advance(10 * time.Second)
	if evs := drain(events); len(evs) != 0 {
		t.Fatalf("stale handoff fired after close: %+v", evs)
	}
}

func TestPreviewLifecycle(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	sink := session.NewBasicSink(false)

	if err := f.m.OpenPreview("b", sink); err != nil {
		t.Fatalf("OpenPreview: %v", err)
	}
	if err := f.m.OpenPreview("b", session.NewBasicSink(false)); !errors.Is(err, ErrPreviewOpen) {
		t.Fatalf("second OpenPreview: %v", err)
	}
	st := f.m.Snapshot()
	if len(st.Previews) != 1 || st.Previews[0] != "b" {
		t.Fatalf("previews = %v", st.Previews)
	}
	if got := f.factory.made("b"); got != 1 {
		t.Fatalf("engines for b = %d, want 1", got)
	}

	f.m.ClosePreview("b")
	if !f.factory.last("b").isClosed() {
		t.Fatal("closing a preview must destroy its session")
	}
	if st := f.m.Snapshot(); len(st.Previews) != 0 || len(st.MountedSinks) != 0 {
		t.Fatalf("snapshot after close = %+v", st)
	}
}

func TestPreviewSessionReusedByHandoff(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	sink := session.NewBasicSink(false)
	if err := f.m.OpenPreview("b", sink); err != nil {
		t.Fatalf("OpenPreview: %v", err)
	}
	eng := f.factory.last("b")
	eng.ready()

	if err := f.m.SwitchTo("b"); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	st := f.m.Snapshot()
	if st.HandoffPending {
		t.Fatal("a buffered reused session must finalize immediately")
	}
	if got := f.factory.made("b"); got != 1 {
		t.Fatalf("engines for b = %d, want 1 (reuse, not create)", got)
	}
	if eng.isClosed() {
		t.Fatal("a reused session must never be destroyed by the handoff")
	}
	if len(st.Previews) != 0 {
		t.Fatalf("preview must be consumed by the reuse, got %v", st.Previews)
	}
}

func TestDirectoryMissDefersOpen(t *testing.T) {
	f := newFixture(t, []string{"a"})
	f.dir.Merge([]directory.Record{{ID: "p", Title: "Pending cam"}})

	if err := f.m.Open("p"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := f.m.Snapshot()
	if !st.FocusedOpen || st.FocusedCamera != "p" || st.HandoffPending {
		t.Fatalf("snapshot = %+v", st)
	}
	if got := f.factory.made("p"); got != 0 {
		t.Fatalf("no engine expected without an address, got %d", got)
	}

	// Address arrives; the open completes on its own.
	f.dir.Merge([]directory.Record{{ID: "p", Title: "Pending cam", StreamAddress: addrFor("p")}})
	if got := f.factory.made("p"); got != 1 {
		t.Fatalf("engine after address arrived = %d, want 1", got)
	}
	f.factory.last("p").ready()
	if st := f.m.Snapshot(); !st.Established || st.FocusedCamera != "p" {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestDirectoryAddressChangeRebuildsVisibleSession(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	f.openAndEstablish(t, "a")
	oldEng := f.factory.last("a")

	f.dir.Merge([]directory.Record{{ID: "a", Title: "Cam a", StreamAddress: addrFor("a") + "?v=2"}})

	if got := f.factory.made("a"); got != 2 {
		t.Fatalf("engines for a = %d, want rebuild on address change", got)
	}
	f.factory.last("a").ready()
	if !oldEng.isClosed() {
		t.Fatal("stale-address session must be destroyed at finalize")
	}
	if st := f.m.Snapshot(); !st.Established || st.HandoffPending {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestDirectoryAddressChangeRestartsPendingHandoff(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	if err := f.m.Open("a"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	staleEng := f.factory.last("a")

	// Address changes while the handoff is still pending.
	f.dir.Merge([]directory.Record{{ID: "a", Title: "Cam a", StreamAddress: addrFor("a") + "?v=2"}})

	if got := f.factory.made("a"); got != 2 {
		t.Fatalf("engines for a = %d, want rebuild against the new address", got)
	}
	if !staleEng.isClosed() {
		t.Fatal("stale-address driver must be destroyed when the handoff restarts")
	}

	// Readiness of the superseded driver must not finalize anything.
	staleEng.ready()
	if st := f.m.Snapshot(); st.Established {
		t.Fatalf("superseded handoff finalized: %+v", st)
	}

	f.factory.last("a").ready()
	st := f.m.Snapshot()
	if !st.Established || st.HandoffPending || st.FocusedCamera != "a" {
		t.Fatalf("snapshot after finalize = %+v", st)
	}
}

func TestStreamErrorReachesSubscribers(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	events, cancel := f.m.Subscribe()
	defer cancel()
	f.openAndEstablish(t, "a")
	drain(events)

	// Fatal error, failed recovery, grace expiry.
	eng := f.factory.last("a")
	eng.hub.Publish(engine.Event{Kind: engine.EventFatalError, Class: engine.ErrorClassNetwork, Err: errors.New("segment fetch failed")})
	f.clk.Advance(2 * time.Second)

	evs := drain(events)
	if len(evs) != 1 || evs[0].Kind != EventStreamError || evs[0].CameraID != "a" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestSetFocusNeighborsOverridesWarmSet(t *testing.T) {
	f := newFixture(t, []string{"a", "b", "c", "d"})
	f.openAndEstablish(t, "a")
	if st := f.m.Snapshot(); len(st.Warmed) != 3 {
		t.Fatalf("warmed after establish = %v", st.Warmed)
	}

	if err := f.m.SetFocusNeighbors([]string{"c"}); err != nil {
		t.Fatalf("SetFocusNeighbors: %v", err)
	}
	st := f.m.Snapshot()
	if len(st.Warmed) != 1 || st.Warmed[0] != "c" {
		t.Fatalf("warmed = %v, want only c", st.Warmed)
	}
	if !f.factory.last("b").isClosed() {
		t.Fatal("evicted warm session must be destroyed")
	}
}

func TestWarmRefusalRecorded(t *testing.T) {
	dir := directory.New(nil)
	var records []directory.Record
	order := []string{"a", "b", "c", "d"}
	for _, id := range order {
		records = append(records, directory.Record{ID: id, Title: "Cam " + id, StreamAddress: addrFor(id)})
	}
	dir.Replace(records)
	ring, err := nav.New(order)
	if err != nil {
		t.Fatalf("nav.New: %v", err)
	}

	mets := metrics.New(prometheus.NewRegistry())
	cfg := DefaultConfig()
	cfg.WarmCapacity = 2
	m := New(Options{
		Directory: dir,
		Order:     ring,
		Engines:   newFakeFactory(),
		Clock:     clock.NewFake(time.Unix(1756500000, 0)),
		Metrics:   mets,
		Config:    cfg,
	})
	t.Cleanup(m.Shutdown)

	if err := m.SetFocusNeighbors([]string{"a", "b", "c"}); err != nil {
		t.Fatalf("SetFocusNeighbors: %v", err)
	}
	if got := testutil.ToFloat64(mets.WarmRefusals); got != 1 {
		t.Fatalf("warm refusals = %v, want 1", got)
	}
}

func TestShutdownDestroysEverything(t *testing.T) {
	f := newFixture(t, []string{"a", "b", "c"})
	f.openAndEstablish(t, "a")
	sink := session.NewBasicSink(false)
	if err := f.m.OpenPreview("c", sink); err != nil {
		t.Fatalf("OpenPreview: %v", err)
	}

	f.m.Shutdown()

	for _, id := range []string{"a", "c"} {
		if eng := f.factory.last(id); eng != nil && !eng.isClosed() {
			t.Errorf("engine for %s not closed after shutdown", id)
		}
	}
	if err := f.m.Open("b"); !errors.Is(err, ErrShutdown) {
		t.Fatalf("Open after shutdown: %v", err)
	}
}
