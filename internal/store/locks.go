package store

import (
	"net"

	"github.com/etrian-dev/ramfsd/internal/protocol"
)

// Open records client in the entry's opened-by set. If the create flag is
// set and no entry exists yet, one is created first. If the lock flag is
// set and the exclusive holder is none or client itself, client becomes the
// holder immediately; otherwise client is queued and ErrWouldBlock is
// returned along with a channel the caller must wait on.
func (s *Store) Open(path string, flags protocol.Flags, client uint32, conn net.Conn) (wait <-chan error, err error) {
	e, ok := s.lookupLocked(path)
	justCreated := false
	if !ok {
		if !flags.Has(protocol.FlagCreate) {
			return nil, errOf(protocol.ErrNoSuchFile)
		}
		created, cerr := s.Create(path, client)
		if cerr != nil {
			return nil, cerr
		}
		e = created
		e.mu.Lock()
		justCreated = true
	} else if flags.Has(protocol.FlagCreate) {
		e.mu.Unlock()
		return nil, errOf(protocol.ErrAlreadyCreated)
	}
	defer e.mu.Unlock()

	// Create already recorded client in openedBy for a brand-new entry;
	// only a *pre-existing* entry can have a stale opened-by record for
	// this client worth rejecting.
	if !justCreated {
		if _, already := e.openedBy[client]; already {
			return nil, errOf(protocol.ErrAlreadyOpen)
		}
		e.openedBy[client] = struct{}{}
	}

	if !flags.Has(protocol.FlagLock) {
		return nil, nil
	}
	if e.exclusiveHolder == NoClient || e.exclusiveHolder == client {
		e.exclusiveHolder = client
		return nil, nil
	}
	ch := e.enqueueWaiter(client, conn)
	return ch, ErrWouldBlock
}

// Close removes client from the entry's opened-by set, releasing its
// exclusive hold (and waking one waiter) if it held one.
func (s *Store) Close(path string, client uint32) error {
	e, ok := s.lookupLocked(path)
	if !ok {
		return errOf(protocol.ErrNoSuchFile)
	}
	defer e.mu.Unlock()

	if _, opened := e.openedBy[client]; !opened {
		return errOf(protocol.ErrNotOpened)
	}
	delete(e.openedBy, client)
	if e.exclusiveHolder == client {
		e.exclusiveHolder = NoClient
		e.grantNextWaiter()
	}
	return nil
}

// Lock acquires exclusive access to path for client, queuing client as a
// waiter (returning ErrWouldBlock) if another client already holds it.
func (s *Store) Lock(path string, client uint32, conn net.Conn) (wait <-chan error, err error) {
	e, ok := s.lookupLocked(path)
	if !ok {
		return nil, errOf(protocol.ErrNoSuchFile)
	}
	defer e.mu.Unlock()

	if e.exclusiveHolder == NoClient || e.exclusiveHolder == client {
		e.exclusiveHolder = client
		return nil, nil
	}
	ch := e.enqueueWaiter(client, conn)
	return ch, ErrWouldBlock
}

// Unlock releases path's exclusive lock if held by client, waking one
// waiter.
func (s *Store) Unlock(path string, client uint32) error {
	e, ok := s.lookupLocked(path)
	if !ok {
		return errOf(protocol.ErrNoSuchFile)
	}
	defer e.mu.Unlock()

	if e.exclusiveHolder != client {
		return errOf(protocol.ErrLocked)
	}
	e.exclusiveHolder = NoClient
	e.grantNextWaiter()
	return nil
}

// ReleaseClient clears every trace of a disconnected client: it is removed
// from each entry's opened-by set, any exclusive hold it had is released
// (granting the next waiter), and any waiter slots it occupied are woken
// with ErrFileGone so the helper goroutine waiting on them replies and
// releases the pending request.
// Without this, a client dying while holding a lock would block its waiters
// forever.
func (s *Store) ReleaseClient(client uint32) {
	s.mu.Lock()
	entries := make([]*Entry, 0, len(s.files))
	for _, e := range s.files {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		delete(e.openedBy, client)
		kept := e.waiters[:0]
		for _, w := range e.waiters {
			if w.clientID == client {
				w.done <- ErrFileGone
			} else {
				kept = append(kept, w)
			}
		}
		e.waiters = kept
		if e.exclusiveHolder == client {
			e.exclusiveHolder = NoClient
			e.grantNextWaiter()
		}
		e.mu.Unlock()
	}
}

// Remove deletes path, requiring client to hold its exclusive lock. Any
// queued waiters are woken with ErrFileGone.
func (s *Store) Remove(path string, client uint32) error {
	s.mu.Lock()
	e, ok := s.files[path]
	if !ok {
		s.mu.Unlock()
		return errOf(protocol.ErrNoSuchFile)
	}
	e.mu.Lock()
	if e.exclusiveHolder != client {
		e.mu.Unlock()
		s.mu.Unlock()
		return errOf(protocol.ErrLocked)
	}
	size := e.size()
	s.removeLocked(path)
	e.wakeAllGone()
	e.mu.Unlock()
	s.mu.Unlock()

	s.counters.removeFile(size)
	return nil
}
