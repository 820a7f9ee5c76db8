package device

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry maps device identifiers to discovered records, oldest-discovered first.
//
// All mutating methods are expected to be called from a single goroutine (the session's
// serial queue); read methods take a shared lock and return copies.
type Registry struct {
	mu      sync.RWMutex
	records *orderedmap.OrderedMap[string, *Record]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		records: orderedmap.New[string, *Record](),
	}
}

// Upsert inserts rec or refreshes the existing record with the same identifier.
// It returns a copy of the stored record and whether it was newly inserted.
func (r *Registry) Upsert(rec *Record) (*Record, bool) {
	if rec == nil || rec.ID == "" {
		return nil, false
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records.Get(rec.ID); ok {
		incoming := rec.Clone()
		if incoming.LastSeen.IsZero() {
			incoming.LastSeen = now
		}
		existing.refresh(incoming)
		return existing.Clone(), false
	}

	stored := rec.Clone()
	if stored.Name == "" {
		stored.Name = UnknownName
	}
	if stored.FirstSeen.IsZero() {
		stored.FirstSeen = now
	}
	if stored.LastSeen.IsZero() {
		stored.LastSeen = now
	}
	r.records.Set(stored.ID, stored)
	return stored.Clone(), true
}

// EnsurePlaceholder returns the record for id, creating a placeholder if the id is unknown.
func (r *Registry) EnsurePlaceholder(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records.Get(id); ok {
		return existing.Clone(), false
	}
	rec := NewPlaceholder(id)
	r.records.Set(id, rec)
	return rec.Clone(), true
}

// Get returns a copy of the record for id
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records.Get(id)
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Contains reports whether id has been discovered (or placeheld)
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records.Get(id)
	return ok
}

// List returns a snapshot of all records, oldest-discovered first
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, r.records.Len())
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Clone())
	}
	return out
}

// At returns the record at index in discovery order
func (r *Registry) At(index int) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= r.records.Len() {
		return nil, false
	}
	i := 0
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		if i == index {
			return pair.Value.Clone(), true
		}
		i++
	}
	return nil, false
}

// Len returns the number of known records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records.Len()
}

// Clear drops every record. Connection state is tracked elsewhere and is not affected.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = orderedmap.New[string, *Record]()
}
