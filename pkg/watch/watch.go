// Package watch implements the watch registry (spec §4.5): per-(kind,
// path) sets of one-shot watchers, event materialization/fan-out, and
// the snapshot needed to re-arm watches after a reconnect.
package watch

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/rs/zerolog"
)

// EventType mirrors the protocol's watcher event types (spec §3/§6).
type EventType int32

const (
	EventNone                EventType = -1
	EventNodeCreated         EventType = 1
	EventNodeDeleted         EventType = 2
	EventNodeDataChanged     EventType = 3
	EventNodeChildrenChanged EventType = 4
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventNodeCreated:
		return "nodeCreated"
	case EventNodeDeleted:
		return "nodeDeleted"
	case EventNodeDataChanged:
		return "nodeDataChanged"
	case EventNodeChildrenChanged:
		return "nodeChildrenChanged"
	default:
		return "unknown"
	}
}

// KeeperState mirrors the session's externally visible connection
// condition (spec §3).
type KeeperState int32

const (
	StateUnknown         KeeperState = 0
	StateDisconnected    KeeperState = 1
	StateNoSyncConnected KeeperState = 2
	StateSyncConnected   KeeperState = 3
	StateAuthFailed      KeeperState = 4
	StateExpired         KeeperState = 5
)

func (s KeeperState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNoSyncConnected:
		return "noSyncConnected"
	case StateSyncConnected:
		return "syncConnected"
	case StateAuthFailed:
		return "authFailed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the session for good (no further
// reconnection is possible), per spec §4.6.
func (s KeeperState) Terminal() bool {
	return s == StateExpired || s == StateAuthFailed
}

// Event is delivered to a Watcher: either a per-path notification (Type
// != EventNone) or a session-level state change (Type == EventNone).
type Event struct {
	Type  EventType
	State KeeperState
	Path  string
}

// Watcher is the callback capability watches are registered under,
// matching spec §3/§9: a single method receives both per-path events and
// session-level state-change events (distinguished by Type).
type Watcher interface {
	Fire(Event)
}

// WatcherFunc adapts a function to a Watcher.
type WatcherFunc func(Event)

func (f WatcherFunc) Fire(ev Event) { f(ev) }

// Kind identifies which of the three watch sets a registration belongs
// to.
type Kind int

const (
	KindData Kind = iota
	KindExist
	KindChild
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindExist:
		return "exist"
	case KindChild:
		return "child"
	default:
		return "unknown"
	}
}

type watcherSet map[Watcher]struct{}

type pathWatchers struct {
	data, exist, child watcherSet
}

func (pw *pathWatchers) empty() bool {
	return pw == nil || (len(pw.data) == 0 && len(pw.exist) == 0 && len(pw.child) == 0)
}

// shardCount controls how many independent mutex domains the registry is
// split across. Paths are assigned to a shard by xxhash, so concurrent
// registrations/firings on unrelated paths don't contend on one lock;
// operations on any single path are always serialized through the same
// shard, which is all the one-shot/ordering invariants of spec §3/§4.5
// actually require.
const shardCount = 16

type shard struct {
	mu       sync.Mutex
	byPath   map[string]*pathWatchers
}

// dispatchJob is one unit of delivery work: a materialized event and the
// watchers it fires, queued for a dedicated delivery goroutine so a slow
// Watcher.Fire implementation never blocks the caller (normally the
// session's response-read loop), per spec §4.5's "off the I/O path"
// requirement.
type dispatchJob struct {
	watchers []Watcher
	event    Event
}

// Registry implements spec §4.5.
type Registry struct {
	shards [shardCount]*shard

	defaultMu sync.Mutex
	defaultW  Watcher

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []dispatchJob
	closed    bool
	wg        sync.WaitGroup

	logger zerolog.Logger
	fired  func(kind string) // optional metrics hook, see session's use
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithLogger attaches a logger used for delivery-time diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithFiredHook attaches a callback invoked once per watcher fired, with
// a label chosen from the event rather than from the set the watcher was
// registered in: "child" for NodeChildrenChanged, "data" for every other
// per-path event, and "session" for EventNone (including FailAll). The
// label "exist" is never passed. Used to feed the zkgo_watch_fired_total metric
// (SPEC_FULL.md §4.9) without the watch package importing the metrics
// package directly.
func WithFiredHook(fn func(kind string)) Option {
	return func(r *Registry) { r.fired = fn }
}

// New creates a Registry with an empty default watcher and starts its
// delivery goroutine. Close must be called to stop it.
func New(opts ...Option) *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{byPath: make(map[string]*pathWatchers)}
	}
	r.queueCond = sync.NewCond(&r.queueMu)
	for _, o := range opts {
		o(r)
	}
	r.wg.Add(1)
	go r.deliverLoop()
	return r
}

// Close stops accepting new events and blocks until the delivery
// goroutine has delivered everything already queued.
func (r *Registry) Close() {
	r.queueMu.Lock()
	r.closed = true
	r.queueCond.Broadcast()
	r.queueMu.Unlock()
	r.wg.Wait()
}

func (r *Registry) shardFor(path string) *shard {
	h := xxhash.ChecksumString64(path)
	return r.shards[h%shardCount]
}

// SetDefault sets the single default watcher slot (spec §4.5). A nil
// watcher clears it.
func (r *Registry) SetDefault(w Watcher) {
	r.defaultMu.Lock()
	r.defaultW = w
	r.defaultMu.Unlock()
}

func (r *Registry) register(kind Kind, w Watcher, path string) {
	if w == nil {
		return
	}
	sh := r.shardFor(path)
	sh.mu.Lock()
	pw := sh.byPath[path]
	if pw == nil {
		pw = &pathWatchers{}
		sh.byPath[path] = pw
	}
	var set *watcherSet
	switch kind {
	case KindData:
		set = &pw.data
	case KindExist:
		set = &pw.exist
	case KindChild:
		set = &pw.child
	}
	if *set == nil {
		*set = make(watcherSet)
	}
	(*set)[w] = struct{}{} // duplicates collapse to one (map semantics)
	sh.mu.Unlock()
}

// RegisterDataWatcher arms w to fire on the next NodeCreated,
// NodeDataChanged or NodeDeleted event for path.
func (r *Registry) RegisterDataWatcher(w Watcher, path string) { r.register(KindData, w, path) }

// RegisterExistWatcher arms w to fire on the next NodeCreated,
// NodeDataChanged or NodeDeleted event for path.
func (r *Registry) RegisterExistWatcher(w Watcher, path string) { r.register(KindExist, w, path) }

// RegisterChildWatcher arms w to fire on the next NodeChildrenChanged or
// NodeDeleted event for path.
func (r *Registry) RegisterChildWatcher(w Watcher, path string) { r.register(KindChild, w, path) }

// Notify materializes ev against the registry (per the mapping in spec
// §4.5) and enqueues delivery to the matching watchers, removing them
// atomically (one-shot). It never blocks on watcher execution.
func (r *Registry) Notify(ev Event) {
	if ev.Type == EventNone {
		r.defaultMu.Lock()
		w := r.defaultW
		r.defaultMu.Unlock()
		if w != nil {
			r.enqueue(dispatchJob{watchers: []Watcher{w}, event: ev})
		}
		return
	}

	sh := r.shardFor(ev.Path)
	sh.mu.Lock()
	pw := sh.byPath[ev.Path]
	var fire []Watcher
	if pw != nil {
		switch ev.Type {
		case EventNodeCreated, EventNodeDataChanged:
			fire = appendSetSlice(fire, pw.data)
			fire = appendSetSlice(fire, pw.exist)
			pw.data, pw.exist = nil, nil
		case EventNodeDeleted:
			fire = appendSetSlice(fire, pw.data)
			fire = appendSetSlice(fire, pw.exist)
			fire = appendSetSlice(fire, pw.child)
			pw.data, pw.exist, pw.child = nil, nil, nil
		case EventNodeChildrenChanged:
			fire = appendSetSlice(fire, pw.child)
			pw.child = nil
		}
		if pw.empty() {
			delete(sh.byPath, ev.Path)
		}
	}
	sh.mu.Unlock()

	if len(fire) > 0 {
		r.enqueue(dispatchJob{watchers: fire, event: ev})
	}
}

func (r *Registry) enqueue(job dispatchJob) {
	r.queueMu.Lock()
	if r.closed {
		r.queueMu.Unlock()
		return
	}
	r.queue = append(r.queue, job)
	r.queueCond.Signal()
	r.queueMu.Unlock()
}

func (r *Registry) deliverLoop() {
	defer r.wg.Done()
	for {
		r.queueMu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.queueCond.Wait()
		}
		if len(r.queue) == 0 && r.closed {
			r.queueMu.Unlock()
			return
		}
		job := r.queue[0]
		r.queue = r.queue[1:]
		r.queueMu.Unlock()

		for _, w := range job.watchers {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.logger.Warn().Interface("panic", rec).Str("path", job.event.Path).Msg("watcher panicked")
					}
				}()
				w.Fire(job.event)
			}()
		}
		if r.fired != nil {
			label := "session"
			if job.event.Type != EventNone {
				label = kindLabel(job.event.Type)
			}
			for range job.watchers {
				r.fired(label)
			}
		}
	}
}

func kindLabel(t EventType) string {
	switch t {
	case EventNodeChildrenChanged:
		return "child"
	default:
		return "data"
	}
}

// Snapshot returns the client paths currently registered for each kind,
// for re-arming via SetWatches after a reconnect (spec §4.6).
func (r *Registry) Snapshot() (dataPaths, existPaths, childPaths []string) {
	for _, sh := range r.shards {
		sh.mu.Lock()
		for path, pw := range sh.byPath {
			if len(pw.data) > 0 {
				dataPaths = append(dataPaths, path)
			}
			if len(pw.exist) > 0 {
				existPaths = append(existPaths, path)
			}
			if len(pw.child) > 0 {
				childPaths = append(childPaths, path)
			}
		}
		sh.mu.Unlock()
	}
	return
}

// FailAll synthesizes an EventNone event with the given state and
// delivers it to every registered watcher (including the default), per
// spec §4.5. If state is terminal (Expired/AuthFailed), the registry is
// cleared afterward, since no reconnect will ever re-arm these watches.
func (r *Registry) FailAll(state KeeperState) {
	ev := Event{Type: EventNone, State: state}

	var all []Watcher
	for _, sh := range r.shards {
		sh.mu.Lock()
		for _, pw := range sh.byPath {
			all = appendSetSlice(all, pw.data)
			all = appendSetSlice(all, pw.exist)
			all = appendSetSlice(all, pw.child)
		}
		if state.Terminal() {
			sh.byPath = make(map[string]*pathWatchers)
		}
		sh.mu.Unlock()
	}

	r.defaultMu.Lock()
	if r.defaultW != nil {
		all = append(all, r.defaultW)
	}
	r.defaultMu.Unlock()

	if len(all) > 0 {
		r.enqueue(dispatchJob{watchers: all, event: ev})
	}
}

func appendSetSlice(dst []Watcher, set watcherSet) []Watcher {
	for w := range set {
		dst = append(dst, w)
	}
	return dst
}
