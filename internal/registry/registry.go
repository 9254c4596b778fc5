// Package registry owns the set of loaded components: their sandbox
// instances, introspected schemas and lifecycle status. All mutations
// on one component id are serialized; operations on different ids run
// independently. Reloads are atomic: callers keep seeing the prior
// record until the replacement is fully built and schema-compatible.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/schema"
)

// Status is a component record's lifecycle state.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
	StatusUnloading Status = "unloading"
)

// DefaultGrace bounds how long an unload waits for in-flight calls.
const DefaultGrace = 5 * time.Second

// Config tunes registry behavior.
type Config struct {
	// Grace is the drain deadline applied on unload and retire. Zero
	// means DefaultGrace.
	Grace time.Duration
}

// Info is a read-only snapshot of one component record.
type Info struct {
	ID       string
	Path     string
	Digest   string
	LoadedAt time.Time
	Status   Status
	Schema   *schema.CallSchema
	Err      error
}

type record struct {
	id       string
	path     string
	digest   string
	loadedAt time.Time
	status   Status
	schema   *schema.CallSchema
	err      error
	binary   []byte
	instance Instance
	inflight sync.WaitGroup
}

// Registry is the single owner of all component records.
type Registry struct {
	engine Engine
	policy *policy.Store
	grace  time.Duration

	mu      sync.RWMutex
	records map[string]*record

	keys keyedMutex

	subMu  sync.Mutex
	subs   []*Subscription
	closed bool
}

// New creates an empty registry backed by the given sandbox engine and
// policy store.
func New(engine Engine, store *policy.Store, cfg Config) *Registry {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Registry{
		engine:  engine,
		policy:  store,
		grace:   cfg.Grace,
		records: make(map[string]*record),
	}
}

// Policy returns the capability store the registry's components are
// bound to.
func (r *Registry) Policy() *policy.Store { return r.policy }

// IDForPath derives the stable component id from a source path: the
// normalized file stem. The same path always yields the same id, so
// reloads of a file keep its identity.
func IDForPath(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return schema.NormalizeName(stem)
}

// Load reads a component binary from a path and loads it under the id
// derived from the path.
func (r *Registry) Load(ctx context.Context, path string) (string, error) {
	id := IDForPath(path)
	if id == "" {
		return "", fmt.Errorf("cannot derive a component id from %q", path)
	}

	binary, err := os.ReadFile(path)
	if err != nil {
		return id, fmt.Errorf("reading component %s: %w", id, err)
	}
	return id, r.loadBytes(ctx, id, path, binary)
}

// LoadBytes loads a component binary under an explicit id, with no
// backing path. Such components cannot be reloaded from disk.
func (r *Registry) LoadBytes(ctx context.Context, id string, binary []byte) error {
	return r.loadBytes(ctx, id, "", binary)
}

func (r *Registry) loadBytes(ctx context.Context, id, path string, binary []byte) error {
	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.RLock()
	existing, exists := r.records[id]
	r.mu.RUnlock()
	if exists && existing.status != StatusFailed {
		return &AlreadyLoadedError{ID: id}
	}

	rec, err := r.build(ctx, id, path, binary)
	if err != nil {
		// A failed record stays visible so list() reports the failure
		// and a later watcher event can retry the load.
		r.put(&record{id: id, path: path, status: StatusFailed, err: err, loadedAt: time.Now()}, nil)
		slog.Error("component load failed", "component", id, "error", err)
		return err
	}

	kind := EventAdded
	if exists {
		kind = EventUpdated
	}
	r.put(rec, &Event{Kind: kind, ID: id, Schema: rec.schema})
	slog.Info("component loaded", "component", id, "tools", len(rec.schema.Tools), "digest", rec.digest[:12])
	return nil
}

// Reload re-reads a path-loaded component and atomically swaps in the
// new record. A reload that would remove or change a previously
// advertised tool is rejected and the prior record keeps serving.
func (r *Registry) Reload(ctx context.Context, id string) error {
	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.RLock()
	old, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return &NotFoundError{ID: id}
	}
	if old.path == "" {
		return fmt.Errorf("component %s was loaded from bytes and has no source path", id)
	}

	binary, err := os.ReadFile(old.path)
	if err != nil {
		return fmt.Errorf("re-reading component %s: %w", id, err)
	}
	return r.swap(ctx, old, binary)
}

// ReloadBytes replaces a byte-loaded component's binary under the same
// compatibility rules as Reload.
func (r *Registry) ReloadBytes(ctx context.Context, id string, binary []byte) error {
	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.RLock()
	old, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return &NotFoundError{ID: id}
	}
	return r.swap(ctx, old, binary)
}

// swap builds a replacement record and installs it if compatible. The
// caller holds the id's key lock.
func (r *Registry) swap(ctx context.Context, old *record, binary []byte) error {
	next, err := r.build(ctx, old.id, old.path, binary)
	if err != nil {
		slog.Warn("component reload failed, prior version keeps serving",
			"component", old.id, "error", err)
		return err
	}

	if old.schema != nil {
		if err := schema.Compatible(old.schema, next.schema); err != nil {
			go r.retire(next)
			slog.Warn("component reload rejected, prior version keeps serving",
				"component", old.id, "error", err)
			return err
		}
	}

	r.put(next, &Event{Kind: EventUpdated, ID: next.id, Schema: next.schema})
	go r.retire(old)
	slog.Info("component reloaded", "component", next.id, "digest", next.digest[:12])
	return nil
}

// Unload drains a component's in-flight calls up to the grace deadline,
// tears down its sandbox and removes the record.
func (r *Registry) Unload(ctx context.Context, id string) error {
	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	rec.status = StatusUnloading
	delete(r.records, id)
	r.publish(Event{Kind: EventRemoved, ID: id})
	r.mu.Unlock()

	r.policy.Drop(id)
	r.retire(rec)
	slog.Info("component unloaded", "component", id)
	return nil
}

// List returns a read-only snapshot of every record, ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, Info{
			ID:       rec.id,
			Path:     rec.path,
			Digest:   rec.digest,
			LoadedAt: rec.loadedAt,
			Status:   rec.status,
			Schema:   rec.schema,
			Err:      rec.err,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Handle is a leased reference to a Ready component. Release must be
// called once the invocation completes so unload can drain.
type Handle struct {
	id       string
	schema   *schema.CallSchema
	instance Instance
	release  func()
}

// ID returns the leased component's id.
func (h *Handle) ID() string { return h.id }

// Schema returns the call schema the lease was taken against. A
// concurrent reload does not change it; the lease keeps the schema its
// instance was built with.
func (h *Handle) Schema() *schema.CallSchema { return h.schema }

// Call invokes an export on the leased sandbox instance.
func (h *Handle) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	return h.instance.Call(ctx, export, payload)
}

// Release returns the lease. Calling it more than once is safe.
func (h *Handle) Release() { h.release() }

// Acquire leases a Ready component for one invocation. A component
// marked failed is re-instantiated from its retained binary before the
// lease is handed out.
func (r *Registry) Acquire(ctx context.Context, id string) (*Handle, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	var status Status
	if ok {
		status = rec.status
	}
	r.mu.RUnlock()

	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if status == StatusFailed {
		if err := r.revive(ctx, id); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok = r.records[id]
	if !ok || rec.status != StatusReady {
		return nil, &NotFoundError{ID: id}
	}

	rec.inflight.Add(1)
	var once sync.Once
	return &Handle{
		id:       rec.id,
		schema:   rec.schema,
		instance: rec.instance,
		release:  func() { once.Do(rec.inflight.Done) },
	}, nil
}

// MarkFailed records that a component's sandbox is in a corrupted state.
// The record stays listed; the next Acquire re-instantiates it from the
// retained binary.
func (r *Registry) MarkFailed(id string, reason error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.status = StatusFailed
	rec.err = reason
	stale := rec.instance
	rec.instance = nil
	r.mu.Unlock()

	if stale != nil {
		go r.drainAndClose(rec, stale)
	}
	slog.Warn("component marked failed", "component", id, "reason", reason)
}

// revive rebuilds a failed component's sandbox from its retained binary.
func (r *Registry) revive(ctx context.Context, id string) error {
	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return &NotFoundError{ID: id}
	}
	if rec.status != StatusFailed || len(rec.binary) == 0 {
		return nil
	}

	next, err := r.build(ctx, rec.id, rec.path, rec.binary)
	if err != nil {
		return err
	}
	r.put(next, &Event{Kind: EventUpdated, ID: next.id, Schema: next.schema})
	slog.Info("component re-instantiated after fault", "component", id)
	return nil
}

// Subscribe registers for ordered change events. The current set of
// Ready components is replayed as Added events first, so a subscriber
// never misses state that existed before it attached.
func (r *Registry) Subscribe() *Subscription {
	sub := newSubscription()

	r.mu.RLock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := r.records[id]
		if rec.status == StatusReady {
			sub.publish(Event{Kind: EventAdded, ID: rec.id, Schema: rec.schema})
		}
	}
	r.subMu.Lock()
	if r.closed {
		sub.Cancel()
	} else {
		r.subs = append(r.subs, sub)
	}
	r.subMu.Unlock()
	r.mu.RUnlock()

	return sub
}

// Close unloads every component and cancels all subscriptions.
func (r *Registry) Close(ctx context.Context) error {
	for _, info := range r.List() {
		if err := r.Unload(ctx, info.ID); err != nil {
			var notFound *NotFoundError
			if !errors.As(err, &notFound) {
				slog.Warn("unload during shutdown failed", "component", info.ID, "error", err)
			}
		}
	}

	r.subMu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.subMu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	return nil
}

// build constructs a fully initialized Ready record: sandbox, interface
// description, introspected schema, digest. It never touches the map.
func (r *Registry) build(ctx context.Context, id, path string, binary []byte) (*record, error) {
	limits := r.policy.LimitsFor(id)

	instance, err := r.engine.Load(ctx, id, binary, limits)
	if err != nil {
		return nil, classifyLoadErr(id, err)
	}

	described, err := instance.DescribeInterface(ctx)
	if err != nil {
		_ = instance.Close(ctx)
		return nil, &UnsupportedInterfaceError{ID: id, Cause: err}
	}
	raw, err := schema.ParseRawInterface(described)
	if err != nil {
		_ = instance.Close(ctx)
		return nil, &UnsupportedInterfaceError{ID: id, Cause: err}
	}
	callSchema, err := schema.Introspect(raw)
	if err != nil {
		_ = instance.Close(ctx)
		return nil, err
	}

	sum := sha256.Sum256(binary)
	return &record{
		id:       id,
		path:     path,
		digest:   hex.EncodeToString(sum[:]),
		loadedAt: time.Now(),
		status:   StatusReady,
		schema:   callSchema,
		binary:   binary,
		instance: instance,
	}, nil
}

// put installs a record and publishes its event inside one critical
// section, so every subscriber observes changes in mutation order.
func (r *Registry) put(rec *record, ev *Event) {
	r.mu.Lock()
	r.records[rec.id] = rec
	if ev != nil {
		r.publish(*ev)
	}
	r.mu.Unlock()
}

// publish fans an event out to all subscribers. Caller holds r.mu.
func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	for _, sub := range r.subs {
		sub.publish(ev)
	}
	r.subMu.Unlock()
}

// retire drains a record up to the grace deadline, then closes its
// sandbox. Calls still running past the deadline are cut off by the
// close.
func (r *Registry) retire(rec *record) {
	if rec.instance == nil {
		return
	}
	r.drainAndClose(rec, rec.instance)
}

func (r *Registry) drainAndClose(rec *record, instance Instance) {
	done := make(chan struct{})
	go func() {
		rec.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.grace):
		slog.Warn("drain deadline passed, closing sandbox with calls in flight",
			"component", rec.id, "grace", r.grace)
	}
	_ = instance.Close(context.Background())
}

// keyedMutex serializes operations per component id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
