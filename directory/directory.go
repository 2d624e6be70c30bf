// Package directory holds the camera directory: the mapping from camera
// identifier to title, geographic position, and stream address. Snapshots
// may arrive late, partially, or repeatedly merged; the rest of the system
// reads through Lookup/Resolve and reacts to change notifications.
package directory

import (
	"log/slog"
	"sort"
	"sync"
)

// Record describes one camera. StreamAddress may be empty when the feed that
// produced the snapshot did not know the camera's stream yet.
type Record struct {
	ID            string
	Title         string
	Lat           float64
	Lng           float64
	StreamAddress string
}

// Directory is the process-wide camera directory snapshot. All methods are
// safe for concurrent use.
type Directory struct {
	log *slog.Logger

	mu      sync.RWMutex
	records map[string]Record
	nextSub int
	subs    map[int]func()
}

// New creates an empty Directory. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{
		log:     log.With("component", "directory"),
		records: make(map[string]Record),
		subs:    make(map[int]func()),
	}
}

// Replace installs records as the new snapshot, dropping cameras that are
// no longer present.
func (d *Directory) Replace(records []Record) {
	d.mu.Lock()
	d.records = make(map[string]Record, len(records))
	for _, r := range records {
		d.records[r.ID] = r
	}
	count := len(d.records)
	d.mu.Unlock()

	d.log.Info("directory replaced", "cameras", count)
	d.notify()
}

// Merge overlays records onto the current snapshot. An incoming record with
// an empty stream address does not clear an address already known, so a
// partial metadata feed cannot knock out a working stream.
func (d *Directory) Merge(records []Record) {
	d.mu.Lock()
	for _, r := range records {
		if prev, ok := d.records[r.ID]; ok && r.StreamAddress == "" {
			r.StreamAddress = prev.StreamAddress
		}
		d.records[r.ID] = r
	}
	count := len(d.records)
	d.mu.Unlock()

	d.log.Info("directory merged", "incoming", len(records), "cameras", count)
	d.notify()
}

// Lookup returns the record for id.
func (d *Directory) Lookup(id string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.records[id]
	return r, ok
}

// Resolve returns the stream address for id. A camera that is unknown or
// whose address has not arrived yet resolves to ok=false; callers treat
// that as a no-op pending a directory update, not as a failure.
func (d *Directory) Resolve(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.records[id]
	if !ok || r.StreamAddress == "" {
		return "", false
	}
	return r.StreamAddress, true
}

// Snapshot returns all records ordered by ID.
func (d *Directory) Snapshot() []Record {
	d.mu.RLock()
	out := make([]Record, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, r)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of cameras in the current snapshot.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// OnChange registers fn to run after every snapshot change and returns a
// cancel function. Callbacks run on the mutating goroutine, outside the
// directory lock.
func (d *Directory) OnChange(fn func()) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Directory) notify() {
	d.mu.RLock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
