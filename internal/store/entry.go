package store

import (
	"net"
	"sync"
)

// NoClient is the sentinel for "no exclusive holder". Client identifiers
// assigned by the dispatcher start at 1 (see dispatcher.nextClientID), so 0
// is never a valid client.
const NoClient uint32 = 0

// waiter is a client queued for exclusive access to a file: a (client-id,
// socket) pair, modelled as a primary-key client id plus the socket handle
// rather than a back-pointer into the session table.
type waiter struct {
	clientID uint32
	conn     net.Conn
	done     chan error // nil = granted, ErrFileGone = file removed/evicted
}

// FileBlock pairs a path with its payload, used both for eviction output and
// for readN's result set.
type FileBlock struct {
	Path    string
	Payload []byte
}

// Entry is one file: payload bytes, the set of clients holding it open, the
// single exclusive-lock holder (or NoClient), and the FIFO waiter queue for
// clients blocked on exclusive access.
type Entry struct {
	mu sync.Mutex

	path            string
	payload         []byte
	openedBy        map[uint32]struct{}
	exclusiveHolder uint32
	waiters         []*waiter
	modifying       bool
}

func newEntry(path string) *Entry {
	return &Entry{
		path:            path,
		openedBy:        make(map[uint32]struct{}),
		exclusiveHolder: NoClient,
	}
}

// size must only be read while holding mu, or from a context that already
// snapshot-copied payload.
func (e *Entry) size() int64 { return int64(len(e.payload)) }

// enqueueWaiter appends a waiter to the FIFO queue and returns its done
// channel. Caller must hold e.mu.
func (e *Entry) enqueueWaiter(clientID uint32, conn net.Conn) <-chan error {
	w := &waiter{clientID: clientID, conn: conn, done: make(chan error, 1)}
	e.waiters = append(e.waiters, w)
	return w.done
}

// grantNextWaiter pops the head waiter (if any), sets it as the exclusive
// holder, and wakes it. Caller must hold e.mu.
func (e *Entry) grantNextWaiter() {
	if len(e.waiters) == 0 {
		return
	}
	w := e.waiters[0]
	e.waiters = e.waiters[1:]
	e.exclusiveHolder = w.clientID
	w.done <- nil
}

// wakeAllGone wakes every queued waiter with ErrFileGone, used when the
// entry is removed or evicted. Caller must hold e.mu.
func (e *Entry) wakeAllGone() {
	for _, w := range e.waiters {
		w.done <- ErrFileGone
	}
	e.waiters = nil
}
