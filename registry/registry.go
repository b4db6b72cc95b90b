// Package registry stores presence records keyed by identity, preserving
// join order for roster snapshots.
package registry

import (
	"sync"

	"kestrel-chat-server/domain"
)

// Record is the presence state tracked for one identity.
type Record struct {
	DisplayName string
	Status      domain.Status
}

// Entry pairs an identity with its record in snapshots.
type Entry struct {
	ID     string
	Record Record
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	recs  map[string]Record
	order []string
}

func New() *Registry {
	return &Registry{recs: make(map[string]Record)}
}

// Put inserts or replaces the record for id. A replaced identity keeps its
// original position in the roster order.
func (r *Registry) Put(id string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.recs[id]; !ok {
		r.order = append(r.order, id)
	}
	r.recs[id] = rec
}

func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.recs[id]
	return rec, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.recs[id]; !ok {
		return
	}
	delete(r.recs, id)
	for i, cur := range r.order {
		if cur == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns all entries in insertion order. The slice is a copy and
// safe to retain.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, Entry{ID: id, Record: r.recs[id]})
	}
	return entries
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.recs)
}
