package session

import (
	"log/slog"
	"sync"

	"github.com/tkardel/camwall/engine"
	"github.com/tkardel/camwall/internal/clock"
)

// DefaultWarmCapacity is the default bound on warmed sessions.
const DefaultWarmCapacity = 8

// Resolver maps a camera id to its stream address. A miss means the address
// is not known yet and warming that camera is a no-op.
type Resolver interface {
	Resolve(id string) (string, bool)
}

// Pool keeps up to a fixed number of warmed sessions, each pre-buffering
// against a hidden sink so an attach later starts without the manifest and
// segment fetch stall. Checkout transfers ownership out of the pool; an
// entry is never handed to two consumers.
type Pool struct {
	log      *slog.Logger
	capacity int
	factory  engine.Factory
	resolver Resolver
	sinks    SinkFactory
	clk      clock.Clock
	cfg      Config

	onRefusal func(cameraID string)

	mu      sync.Mutex
	entries map[string]*Session
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Capacity bounds the warm set; zero means DefaultWarmCapacity.
	Capacity int
	Engines  engine.Factory
	Resolver Resolver
	// Sinks mints the hidden sinks warm sessions buffer against. Nil uses
	// BasicSinkFactory.
	Sinks   SinkFactory
	Clock   clock.Clock
	Session Config
	Log     *slog.Logger
	// OnWarmRefusal, if non-nil, observes every warm request refused
	// because the pool was at capacity.
	OnWarmRefusal func(cameraID string)
}

// NewPool creates an empty Pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultWarmCapacity
	}
	if opts.Sinks == nil {
		opts.Sinks = BasicSinkFactory{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Pool{
		log:       opts.Log.With("component", "session-pool"),
		capacity:  opts.Capacity,
		factory:   opts.Engines,
		resolver:  opts.Resolver,
		sinks:     opts.Sinks,
		clk:       opts.Clock,
		cfg:       opts.Session,
		onRefusal: opts.OnWarmRefusal,
		entries:   make(map[string]*Session),
	}
}

// Warm creates and starts a session for each id that has no entry yet and
// whose stream address is known, buffering against a fresh hidden sink.
// Warming stops once the capacity bound is reached; Warm never evicts,
// eviction is Reconcile's job.
func (p *Pool) Warm(ids []string) {
	for _, id := range ids {
		p.mu.Lock()
		if _, exists := p.entries[id]; exists {
			p.mu.Unlock()
			continue
		}
		if len(p.entries) >= p.capacity {
			p.mu.Unlock()
			p.log.Debug("warm refused, pool at capacity", "camera", id, "capacity", p.capacity)
			if p.onRefusal != nil {
				p.onRefusal(id)
			}
			continue
		}
		addr, ok := p.resolver.Resolve(id)
		if !ok {
			p.mu.Unlock()
			p.log.Debug("warm skipped, no stream address yet", "camera", id)
			continue
		}
		eng, err := p.factory.New(id, addr)
		if err != nil {
			p.mu.Unlock()
			p.log.Warn("warm failed, engine create error", "camera", id, "error", err)
			continue
		}
		sess := New(id, addr, eng, p.clk, p.cfg, p.log)
		p.entries[id] = sess
		size := len(p.entries)
		p.mu.Unlock()

		sink := p.sinks.NewSink(true)
		if err := sess.Attach(sink); err != nil {
			p.log.Warn("warm attach failed", "camera", id, "error", err)
		}
		if err := sess.Play(); err != nil {
			p.log.Warn("warm play failed", "camera", id, "error", err)
		}
		p.log.Info("session warmed", "camera", id, "pool_size", size)
	}
}

// Reconcile destroys warmed sessions whose camera is not in desired, freeing
// capacity for the new neighbor set. Entries in desired are left untouched.
func (p *Pool) Reconcile(desired []string) {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}

	p.mu.Lock()
	var evicted []*Session
	for id, sess := range p.entries {
		if _, keep := want[id]; !keep {
			delete(p.entries, id)
			evicted = append(evicted, sess)
		}
	}
	size := len(p.entries)
	p.mu.Unlock()

	for _, sess := range evicted {
		sess.Destroy()
		p.log.Info("warmed session evicted", "camera", sess.CameraID(), "pool_size", size)
	}
}

// Checkout removes and returns the warmed or loading session for id,
// transferring ownership to the caller. Returns nil when no entry exists.
// Never blocks; the remove-and-return is one atomic step, so a second
// checkout for the same id always returns nil.
func (p *Pool) Checkout(id string) *Session {
	p.mu.Lock()
	sess, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	size := len(p.entries)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	p.log.Info("session checked out", "camera", id, "pool_size", size)
	return sess
}

// Contains reports whether a warmed entry exists for id.
func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Len returns the number of warmed entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// IDs returns the camera ids currently warmed.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.entries))
	for id := range p.entries {
		out = append(out, id)
	}
	return out
}

// Sessions returns the warmed sessions themselves. The pool retains
// ownership; callers must not destroy them.
func (p *Pool) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, 0, len(p.entries))
	for _, sess := range p.entries {
		out = append(out, sess)
	}
	return out
}

// Shutdown destroys every pooled session.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*Session)
	p.mu.Unlock()

	for _, sess := range entries {
		sess.Destroy()
	}
	p.log.Info("pool shut down", "destroyed", len(entries))
}
