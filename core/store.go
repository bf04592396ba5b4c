package core

import (
	"sync"
	"time"
)

// Artifact is one completed generation or upload: raw bytes plus the metadata
// needed to serve it back later. Immutable once stored.
type Artifact struct {
	Data        []byte
	ContentType string
	// Name carries the originating prompt or upload filename.
	Name      string
	CreatedAt time.Time
}

// StoreOptions bound the store's footprint. An unbounded process-lifetime map
// leaks under sustained load, so both a capacity and an age limit apply.
type StoreOptions struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultStoreOptions returns the bounds used when a caller passes zero values.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{MaxEntries: 256, TTL: time.Hour}
}

type storeEntry struct {
	artifact Artifact
	storedAt time.Time
}

// Store is a process-wide, concurrency-safe artifact map keyed by opaque id.
// Each id is written at most once before it is ever read, so last-writer-wins
// on Put is acceptable. Expired entries are dropped by a background janitor
// and, defensively, on read.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry
	order   []string
	opts    StoreOptions

	done      chan struct{}
	closeOnce sync.Once
}

func NewStore(opts StoreOptions) *Store {
	def := DefaultStoreOptions()
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = def.MaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	s := &Store{
		entries: make(map[string]*storeEntry),
		opts:    opts,
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Put inserts or overwrites the artifact under id.
func (s *Store) Put(id string, artifact Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; !exists {
		s.order = append(s.order, id)
	}
	s.entries[id] = &storeEntry{artifact: artifact, storedAt: time.Now()}
	s.evictOverCapacityLocked()
}

// Get returns the artifact stored under id. A missing or expired id is a
// first-class not-found outcome, reported through the bool.
func (s *Store) Get(id string) (Artifact, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Artifact{}, false
	}
	if time.Since(e.storedAt) > s.opts.TTL {
		s.mu.Lock()
		s.removeLocked(id)
		s.mu.Unlock()
		return Artifact{}, false
	}
	return e.artifact, true
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the janitor. Entries remain readable afterwards.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) janitor() {
	interval := s.opts.TTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	cutoff := time.Now().Add(-s.opts.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.storedAt.Before(cutoff) {
			s.removeLocked(id)
		}
	}
}

// evictOverCapacityLocked drops the oldest insertions until the store fits.
func (s *Store) evictOverCapacityLocked() {
	for len(s.entries) > s.opts.MaxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.removeLocked(oldest)
	}
}

func (s *Store) removeLocked(id string) {
	delete(s.entries, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
