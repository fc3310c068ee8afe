// Package store implements the shared, content-addressed file store: a
// thread-safe path→entry map with per-file mutual exclusion, a FIFO
// eviction queue, and the global usage counters.
//
// Lock order, enforced throughout this package and never reversed:
// counters < store < per-file < waiters. The store mutex guards
// the path→entry map and the eviction queue together; it must
// be released as soon as the target entry pointer is obtained and its
// per-file mutex is held (hand-over-hand). During eviction the counters
// mutex is held for the whole sweep, while the store mutex is taken once
// per victim, covering both the queue pop and the map delete.
package store

import (
	"container/list"
	"net"
	"sync"

	"github.com/etrian-dev/ramfsd/internal/protocol"
)

// Store is the shared, in-memory file store.
type Store struct {
	mu       sync.Mutex
	files    map[string]*Entry
	queue    *list.List               // ordered paths, oldest (victim) at Front
	queueIdx map[string]*list.Element // path -> its element in queue, for O(1) removal

	counters counters

	maxFiles int
	maxBytes int64
}

// New creates an empty store bounded by maxFiles entries and maxBytes total
// payload bytes.
func New(maxFiles int, maxBytes int64) *Store {
	return &Store{
		files:    make(map[string]*Entry),
		queue:    list.New(),
		queueIdx: make(map[string]*list.Element),
		maxFiles: maxFiles,
		maxBytes: maxBytes,
	}
}

// SetObserver wires an Observer (internal/stats) to mirror counters into an
// external metrics registry.
func (s *Store) SetObserver(o Observer) { s.counters.setObserver(o) }

// Counters returns a point-in-time snapshot of the global counters.
func (s *Store) Counters() CountersSnapshot { return s.counters.Snapshot() }

// ObserveConnectedClients updates the max-connected-clients high watermark.
// Called by the dispatcher, which owns the session table, since connection
// count is not store state.
func (s *Store) ObserveConnectedClients(n int) { s.counters.observeConnectedClients(int64(n)) }

// pushVictim inserts path at the tail of the eviction queue. Caller must
// hold s.mu.
func (s *Store) pushVictim(path string) {
	el := s.queue.PushBack(path)
	s.queueIdx[path] = el
}

// dropFromQueue removes path from the eviction queue regardless of
// position (used by explicit remove). Caller must hold s.mu.
func (s *Store) dropFromQueue(path string) {
	if el, ok := s.queueIdx[path]; ok {
		s.queue.Remove(el)
		delete(s.queueIdx, path)
	}
}

// Find looks up path without side effects.
func (s *Store) Find(path string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[path]
	return e, ok
}

// Create inserts a zero-length entry for path, owned (opened) by client.
func (s *Store) Create(path string, client uint32) (*Entry, error) {
	s.mu.Lock()
	if _, exists := s.files[path]; exists {
		s.mu.Unlock()
		return nil, errOf(protocol.ErrAlreadyCreated)
	}
	if s.maxFiles > 0 && len(s.files) >= s.maxFiles {
		s.mu.Unlock()
		return nil, errOf(protocol.ErrTooManyFiles)
	}
	e := newEntry(path)
	e.openedBy[client] = struct{}{}
	s.files[path] = e
	s.pushVictim(path)
	s.mu.Unlock()

	s.counters.addFile(0)
	return e, nil
}

// lookupLocked returns the entry for path with its own mutex already held,
// releasing the store mutex first (hand-over-hand).
func (s *Store) lookupLocked(path string) (*Entry, bool) {
	s.mu.Lock()
	e, ok := s.files[path]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	e.mu.Lock()
	s.mu.Unlock()
	return e, true
}

// removeLocked deletes path from the map and eviction queue. Caller must
// hold s.mu; does not touch any per-file mutex.
func (s *Store) removeLocked(path string) {
	delete(s.files, path)
	s.dropFromQueue(path)
}

// connKey identifies a waiting client's socket for logging/debugging only;
// the actual wakeup uses the waiter's done channel, not the net.Conn.
func connKey(conn net.Conn) string {
	if conn == nil {
		return "<nil>"
	}
	return conn.RemoteAddr().String()
}
