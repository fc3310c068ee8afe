// Package dispatcher implements the connection-acceptance and request
// hand-off loop: a single goroutine owns Accept(), and one goroutine per
// live connection reads exactly one request, submits it to the worker
// queue, and blocks until that request has been fully replied to before
// reading the next. This replaces a select()-loop's practice of removing a
// socket from the read-set while a request is in flight: here, the read
// goroutine simply doesn't call DecodeRequestHeader again until the
// worker signals completion.
package dispatcher

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/etrian-dev/ramfsd/internal/logger"
	"github.com/etrian-dev/ramfsd/internal/protocol"
	"github.com/etrian-dev/ramfsd/internal/queue"
	"github.com/etrian-dev/ramfsd/internal/session"
)

// Dispatcher owns the listening socket, the client session table, and the
// hand-off queue feeding the worker pool.
type Dispatcher struct {
	ln       net.Listener
	jobs     *queue.Queue
	sessions *session.Table
	log      *slog.Logger

	nextClientID uint32 // first assigned id is 1; 0 (store.NoClient) never used

	onConnect    func(liveCount int)
	onDisconnect func(clientID uint32)

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a Dispatcher listening on ln, feeding jobs into q and
// recording sessions into sessions.
func New(ln net.Listener, q *queue.Queue, sessions *session.Table, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ln:       ln,
		jobs:     q,
		sessions: sessions,
		log:      log,
	}
}

// OnConnect registers a callback invoked with the live session count after
// each accepted connection, used to drive the store's max-connected-clients
// watermark without this package importing store.
func (d *Dispatcher) OnConnect(fn func(liveCount int)) { d.onConnect = fn }

// OnDisconnect registers a callback invoked with a client's id once its
// connection has been torn down, used to release any open files and
// exclusive locks the client left behind (store.ReleaseClient) without this
// package importing store.
func (d *Dispatcher) OnDisconnect(fn func(clientID uint32)) { d.onDisconnect = fn }

// Run accepts connections until the listener is closed. Each accepted
// connection gets its own session entry and its own read goroutine.
func (d *Dispatcher) Run() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if d.closed.Load() {
				return
			}
			d.log.Error("accept failed", logger.ErrAttr(err))
			return
		}
		id := atomic.AddUint32(&d.nextClientID, 1)
		d.sessions.Add(conn, id)
		if d.onConnect != nil {
			d.onConnect(d.sessions.Len())
		}

		d.wg.Add(1)
		go d.serveConn(conn, id)
	}
}

// serveConn reads one request at a time from conn, enqueueing each as a
// Job and blocking on that Job's Done channel before reading the next
//.
func (d *Dispatcher) serveConn(conn net.Conn, clientID uint32) {
	defer d.wg.Done()
	defer d.cleanupConn(conn, clientID)

	for {
		hdr, err := protocol.DecodeRequestHeader(conn)
		if err != nil {
			return // closed or malformed framing: drop the connection
		}
		if hdr.Type == protocol.OpCloseConn {
			return
		}

		done := make(chan struct{})
		d.jobs.Enqueue(queue.Job{Header: hdr, Conn: conn, Done: done})
		<-done
	}
}

func (d *Dispatcher) cleanupConn(conn net.Conn, clientID uint32) {
	d.sessions.Remove(conn)
	_ = conn.Close()
	if d.onDisconnect != nil {
		d.onDisconnect(clientID)
	}
}

// Close stops accepting new connections. Existing connections are left to
// the termination coordinator.
func (d *Dispatcher) Close() error {
	d.closed.Store(true)
	return d.ln.Close()
}

// Wait blocks until every per-connection goroutine has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }
