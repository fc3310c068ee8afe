package store

import (
	"github.com/etrian-dev/ramfsd/internal/protocol"
)

// Read returns a copy of path's payload, requiring client to have it open.
func (s *Store) Read(path string, client uint32) ([]byte, error) {
	e, ok := s.lookupLocked(path)
	if !ok {
		return nil, errOf(protocol.ErrNoSuchFile)
	}
	defer e.mu.Unlock()

	if _, opened := e.openedBy[client]; !opened {
		return nil, errOf(protocol.ErrNotOpened)
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, nil
}

// ReadN returns the n oldest entries in the eviction queue (all of them
// when n <= 0), without updating recency. The eviction-queue mutex (here,
// the store mutex) is held across the full collect pass rather than split
// into a count-then-collect pair, so the result is never stale relative to
// itself.
func (s *Store) ReadN(n int) []FileBlock {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.queue.Len()
	if n <= 0 || n > total {
		n = total
	}

	out := make([]FileBlock, 0, n)
	el := s.queue.Front()
	for i := 0; i < n && el != nil; i++ {
		path := el.Value.(string)
		if e, ok := s.files[path]; ok {
			e.mu.Lock()
			payload := make([]byte, len(e.payload))
			copy(payload, e.payload)
			e.mu.Unlock()
			out = append(out, FileBlock{Path: path, Payload: payload})
		}
		el = el.Next()
	}
	return out
}

// Append concatenates buf onto path's payload, requiring client to have it
// open with no conflicting exclusive holder. If the new total would exceed
// max_bytes, the eviction engine runs first. Returns the evicted files (if
// any) the worker must stream back to the client ahead of the positive
// reply.
func (s *Store) Append(path string, client uint32, buf []byte) ([]FileBlock, error) {
	return s.writeClassOp(path, client, buf, false)
}

// Write truncates path to zero bytes and then behaves like Append of buf.
// Authorisation (client's last successful operation on path having been
// open(path, O_CREATE)) is the session table's concern and is
// checked by the caller before invoking Write; the store itself only
// performs the truncate-then-append mechanics.
func (s *Store) Write(path string, client uint32, buf []byte) ([]FileBlock, error) {
	return s.writeClassOp(path, client, buf, true)
}

func (s *Store) writeClassOp(path string, client uint32, buf []byte, truncate bool) ([]FileBlock, error) {
	if int64(len(buf)) > s.maxBytes {
		return nil, errOf(protocol.ErrTooBig)
	}

	s.counters.mu.Lock()
	defer s.counters.mu.Unlock()

	// A truncating write frees the entry's current bytes before it appends,
	// so only the net growth can miss capacity: a write that fits in its own
	// file's old space must not evict anyone. Holding the counters mutex
	// across this read and the append below keeps sizes stable in between
	// (every size mutation goes through this same mutex).
	var freed int64
	if truncate {
		if e, ok := s.lookupLocked(path); ok {
			freed = e.size()
			e.mu.Unlock()
		}
	}
	incoming := int64(len(buf)) - freed

	var evicted []FileBlock
	if s.counters.currentBytes+incoming > s.maxBytes {
		var err error
		evicted, err = s.evictForCapacityLocked(incoming, path)
		if err != nil {
			return nil, err
		}
	}

	e, ok := s.lookupLocked(path)
	if !ok {
		return nil, errOf(protocol.ErrNoSuchFile)
	}
	defer e.mu.Unlock()

	if _, opened := e.openedBy[client]; !opened {
		return nil, errOf(protocol.ErrNotOpened)
	}
	if e.exclusiveHolder != NoClient && e.exclusiveHolder != client {
		return nil, errOf(protocol.ErrLocked)
	}

	before := e.size()
	e.modifying = true
	if truncate {
		e.payload = e.payload[:0]
	}
	e.payload = append(e.payload, buf...)
	e.modifying = false
	after := e.size()

	s.counters.growFileLocked(after - before)
	return evicted, nil
}
