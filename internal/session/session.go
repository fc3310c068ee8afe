// Package session implements the client session table: an array-backed,
// dynamically-growing record of each connected client's socket and last
// successful operation, used solely to authorise write(path) following
// open(path, O_CREATE).
package session

import (
	"net"
	"sync"

	"github.com/etrian-dev/ramfsd/internal/protocol"
)

// Session is one connected client's server-side record.
type Session struct {
	Conn     net.Conn
	ClientID uint32

	mu        sync.Mutex
	lastOp    protocol.Op
	lastFlags protocol.Flags
	lastPath  string
	hasLastOp bool
}

// LastOp returns the last successfully completed operation, its flags, and
// the path it referenced (ok is false if no operation has completed yet).
func (s *Session) LastOp() (op protocol.Op, flags protocol.Flags, path string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOp, s.lastFlags, s.lastPath, s.hasLastOp
}

// setLastOp records op as the session's last successful operation. Called
// only after the operation has been fully replied to.
func (s *Session) setLastOp(op protocol.Op, flags protocol.Flags, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOp = op
	s.lastFlags = flags
	s.lastPath = path
	s.hasLastOp = true
}

// Table is the array-backed, socket-keyed session table.
type Table struct {
	mu       sync.Mutex
	sessions []*Session
}

// NewTable creates an empty session table.
func NewTable() *Table { return &Table{} }

// Add creates and inserts a new session for conn, uniquely identified by
// clientID. The dispatcher only calls Add once per accepted connection, so
// conn uniquely identifies the row.
func (t *Table) Add(conn net.Conn, clientID uint32) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Session{Conn: conn, ClientID: clientID}
	t.sessions = append(t.sessions, s)
	return s
}

// Remove deletes the session for conn, if present.
func (t *Table) Remove(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.sessions {
		if s.Conn == conn {
			t.sessions = append(t.sessions[:i], t.sessions[i+1:]...)
			return
		}
	}
}

// CloseAll forcibly closes every live connection, used by fast termination
// to drop all clients immediately rather than waiting for them
// to disconnect on their own.
func (t *Table) CloseAll() {
	t.mu.Lock()
	conns := make([]net.Conn, len(t.sessions))
	for i, s := range t.sessions {
		conns[i] = s.Conn
	}
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Find returns the session for conn, if any.
func (t *Table) Find(conn net.Conn) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		if s.Conn == conn {
			return s, true
		}
	}
	return nil, false
}

// UpdateLastOp records conn's last successful operation.
func (t *Table) UpdateLastOp(conn net.Conn, op protocol.Op, flags protocol.Flags, path string) {
	if s, ok := t.Find(conn); ok {
		s.setLastOp(op, flags, path)
	}
}

// Len reports the number of live sessions, used as the slow-termination
// drain condition and the connected-clients high watermark.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
