package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourorg/hpp-checkout/internal/session"
)

const (
	defaultRetention    = 5 * time.Minute
	defaultHistoryLimit = 1000
)

// entry pairs a session with the surface its bridge renders into. The surface
// is created by the session goroutine once producer data is available.
type entry struct {
	session *session.Session
	token   string
	surface atomic.Pointer[pageSurface]
}

// registry holds the sessions of this process. Sessions are never persisted.
// A finished session stays reachable for the retention window, then only its
// record is kept, in a history capped at limit.
type registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	history   []session.Record
	retention time.Duration
	limit     int
}

func newRegistry(retention time.Duration, limit int) *registry {
	return &registry{
		entries:   make(map[string]*entry),
		retention: retention,
		limit:     limit,
	}
}

func (r *registry) add(e *entry) {
	r.mu.Lock()
	r.entries[e.session.ID()] = e
	r.mu.Unlock()

	go func() {
		<-e.session.Done()
		if r.retention <= 0 {
			r.evict(e.session.ID())
			return
		}
		time.AfterFunc(r.retention, func() { r.evict(e.session.ID()) })
	}()
}

func (r *registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *registry) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)
	if r.limit <= 0 {
		return
	}
	r.history = append(r.history, e.session.Snapshot())
	if over := len(r.history) - r.limit; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
}

// records returns a snapshot of every known session ordered by start time.
func (r *registry) records() []session.Record {
	r.mu.RLock()
	out := make([]session.Record, 0, len(r.history)+len(r.entries))
	out = append(out, r.history...)
	for _, e := range r.entries {
		out = append(out, e.session.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *registry) running() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*session.Session
	for _, e := range r.entries {
		select {
		case <-e.session.Done():
		default:
			out = append(out, e.session)
		}
	}
	return out
}

// wait blocks until every registered session is terminal or ctx ends.
func (r *registry) wait(ctx context.Context) error {
	for _, s := range r.running() {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("server: %d sessions still running: %w", len(r.running()), ctx.Err())
		}
	}
	return nil
}
