// Package worker implements the fixed-size worker pool: each worker pops a
// Job, parses its pathname and payload, dispatches to the appropriate
// store operation, streams any evicted files ahead of the reply, and
// re-arms the dispatcher for the connection's next request.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/etrian-dev/ramfsd/internal/logger"
	"github.com/etrian-dev/ramfsd/internal/protocol"
	"github.com/etrian-dev/ramfsd/internal/queue"
	"github.com/etrian-dev/ramfsd/internal/session"
	"github.com/etrian-dev/ramfsd/internal/store"
	"github.com/etrian-dev/ramfsd/internal/telemetry"
)

// Pool runs a fixed number of worker goroutines draining a shared queue.
type Pool struct {
	size     int
	jobs     *queue.Queue
	st       *store.Store
	sessions *session.Table
	log      *slog.Logger

	wg sync.WaitGroup
}

// New creates a Pool of size workers operating against st and sessions,
// consuming Jobs from q.
func New(size int, q *queue.Queue, st *store.Store, sessions *session.Table, log *slog.Logger) *Pool {
	return &Pool{size: size, jobs: q, st: st, sessions: sessions, log: log}
}

// Start launches the worker goroutines. Each runs until the job queue is
// closed and drained.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		job, ok := p.jobs.Pop()
		if !ok {
			return
		}
		if job.Header == nil {
			// Fast-termination sentinel: nothing to do, just
			// exit this worker.
			return
		}
		if completed := p.handle(job); completed && job.Done != nil {
			close(job.Done)
		}
	}
}

// handle executes one request end to end: read the pathname/payload,
// dispatch to the store, and write the reply frame. It reports false when
// the request blocked on an exclusive lock and a detached helper now owns
// the reply and the job's Done channel; the worker is free to serve other
// clients in the meantime, so a handful of blocked lock requests can never
// starve the pool.
func (p *Pool) handle(job queue.Job) bool {
	hdr := job.Header
	conn := job.Conn

	pathBuf := make([]byte, hdr.PathLen)
	if err := protocol.ReadExact(conn, pathBuf); err != nil {
		p.log.Error("read path failed", logger.ErrAttr(err))
		return true
	}
	path := trimNul(string(pathBuf))

	var buf []byte
	if hdr.BufLen > 0 {
		buf = make([]byte, hdr.BufLen)
		if err := protocol.ReadExact(conn, buf); err != nil {
			p.log.Error("read payload failed", logger.ErrAttr(err))
			return true
		}
	}

	// The wire header carries a client-chosen id, but identity inside the
	// server is the accept-order id the dispatcher assigned this
	// connection: the store's openedBy/lock records must be keyed by the
	// same id disconnect cleanup will pass to ReleaseClient. The header
	// field is overwritten here so every downstream store call and log
	// record uses the server's id, never the client's claim.
	sess, ok := p.sessions.Find(conn)
	if !ok {
		// Session already torn down; the request bytes are drained, and
		// there is nobody left to reply to.
		return true
	}
	hdr.ClientID = sess.ClientID

	_, span := telemetry.StartOp(context.Background(), hdr.Type, path)
	defer span.End()

	switch hdr.Type {
	case protocol.OpOpenFile:
		return p.doOpen(hdr, conn, path, job.Done)
	case protocol.OpCloseFile:
		p.doClose(hdr, conn, path)
	case protocol.OpReadFile:
		p.doRead(hdr, conn, path)
	case protocol.OpReadN:
		p.doReadN(hdr, conn, buf)
	case protocol.OpAppend:
		p.doAppend(hdr, conn, path, buf)
	case protocol.OpWrite:
		p.doWrite(hdr, conn, path, buf)
	case protocol.OpLock:
		return p.doLock(hdr, conn, path, job.Done)
	case protocol.OpUnlock:
		p.doUnlock(hdr, conn, path)
	case protocol.OpRemove:
		p.doRemove(hdr, conn, path)
	default:
		_ = protocol.WriteFail(conn, protocol.ErrNone)
	}
	return true
}

// logOutcome appends one record for a completed request, mirroring the
// original worker's "operation succeeded/not permitted" logging that runs
// after every single request, success or failure.
func (p *Pool) logOutcome(hdr *protocol.RequestHeader, path string, err error) {
	op := hdr.Type.String()
	if err == nil {
		p.log.Info(fmt.Sprintf("[CLIENT %d] %s(%s): operation completed successfully", hdr.ClientID, op, path))
		return
	}
	p.log.Warn(fmt.Sprintf("[CLIENT %d] %s(%s): operation not permitted", hdr.ClientID, op, path), logger.ErrAttr(err))
}

func trimNul(s string) string {
	for i, b := range []byte(s) {
		if b == 0 {
			return s[:i]
		}
	}
	return s
}

func (p *Pool) reply(hdr *protocol.RequestHeader, conn net.Conn, path string, err error) {
	if err == nil {
		_ = protocol.WriteOK(conn)
		// Every successful operation overwrites the session's last-op
		// record, only after the reply is on the wire: write(path) is
		// authorised solely by an *immediately preceding* open(path,
		// O_CREATE), so any other success in between must invalidate it.
		p.sessions.UpdateLastOp(conn, hdr.Type, hdr.Flags, path)
		p.logOutcome(hdr, path, nil)
		return
	}
	if opErr, ok := err.(*store.OpError); ok {
		_ = protocol.WriteFail(conn, opErr.Code)
		p.logOutcome(hdr, path, opErr)
		return
	}
	if errors.Is(err, store.ErrFileGone) {
		// The file a blocked lock/open waiter was queued on was removed or
		// evicted out from under it: the closest reply-level error tag is
		// NoSuchFile, since the path genuinely no longer exists.
		_ = protocol.WriteFail(conn, protocol.ErrNoSuchFile)
		p.logOutcome(hdr, path, err)
		return
	}
	// Any other error (store.ErrConsistency included) gets no reply frame:
	// it is only logged here, and the server keeps running.
	p.log.Error("unexpected internal error", logger.ErrAttr(err))
}

func (p *Pool) replyWithEvicted(hdr *protocol.RequestHeader, conn net.Conn, path string, evicted []store.FileBlock) {
	if len(evicted) == 0 {
		_ = protocol.WriteOK(conn)
	} else {
		blocks := make([]protocol.FileBlock, len(evicted))
		for i, b := range evicted {
			blocks[i] = protocol.FileBlock{Path: b.Path, Payload: b.Payload}
		}
		_ = protocol.WriteMultiReply(conn, blocks)
	}
	p.sessions.UpdateLastOp(conn, hdr.Type, hdr.Flags, path)
	p.logOutcome(hdr, path, nil)
}

// doOpen handles OPEN_FILE, including the O_LOCK blocking path: if
// Store.Open returns ErrWouldBlock, a detached helper goroutine awaits the
// grant and sends the reply, and doOpen reports false so the worker
// returns to the pool without touching the job's Done channel. The
// dispatcher's read goroutine stays blocked on Done, so the suspended
// session still has exactly one request outstanding.
func (p *Pool) doOpen(hdr *protocol.RequestHeader, conn net.Conn, path string, done chan<- struct{}) bool {
	wait, err := p.st.Open(path, hdr.Flags, hdr.ClientID, conn)
	if err == store.ErrWouldBlock {
		go p.awaitGrant(hdr, conn, path, wait, done)
		return false
	}
	p.reply(hdr, conn, path, err)
	return true
}

// awaitGrant is the detached helper for a session suspended on an
// exclusive lock: it sleeps until the store grants the lock (or the file
// disappears), replies, and only then re-arms the dispatcher by closing
// done.
func (p *Pool) awaitGrant(hdr *protocol.RequestHeader, conn net.Conn, path string, wait <-chan error, done chan<- struct{}) {
	err := <-wait
	p.reply(hdr, conn, path, err)
	if done != nil {
		close(done)
	}
}

func (p *Pool) doClose(hdr *protocol.RequestHeader, conn net.Conn, path string) {
	err := p.st.Close(path, hdr.ClientID)
	p.reply(hdr, conn, path, err)
}

func (p *Pool) doRead(hdr *protocol.RequestHeader, conn net.Conn, path string) {
	data, err := p.st.Read(path, hdr.ClientID)
	if err != nil {
		p.reply(hdr, conn, path, err)
		return
	}
	_ = protocol.WriteOKWithPayload(conn, data)
	p.sessions.UpdateLastOp(conn, hdr.Type, hdr.Flags, path)
	p.logOutcome(hdr, path, nil)
}

// doReadN parses the requested count from buf (a single native-endian
// uint32, 0 meaning "all files") and returns the oldest entries.
func (p *Pool) doReadN(hdr *protocol.RequestHeader, conn net.Conn, buf []byte) {
	n := 0
	if len(buf) >= 4 {
		n = int(protocol.DecodeCount(buf))
	}
	blocks := p.st.ReadN(n)
	p.replyWithEvicted(hdr, conn, fmt.Sprintf("%d files", n), blocks)
}

// doWrite enforces the session-table authorisation rule: write(path) is
// only valid immediately following this client's own open(path,
// O_CREATE). This check belongs here, in the worker, precisely to avoid a
// store -> session import cycle.
func (p *Pool) doWrite(hdr *protocol.RequestHeader, conn net.Conn, path string, buf []byte) {
	s, ok := p.sessions.Find(conn)
	if !ok {
		p.reply(hdr, conn, path, &store.OpError{Code: protocol.ErrNotOpened})
		return
	}
	lastOp, lastFlags, lastPath, hasLastOp := s.LastOp()
	if !hasLastOp || lastOp != protocol.OpOpenFile || !lastFlags.Has(protocol.FlagCreate) || lastPath != path {
		p.reply(hdr, conn, path, &store.OpError{Code: protocol.ErrNotOpened})
		return
	}
	evicted, err := p.st.Write(path, hdr.ClientID, buf)
	if err != nil {
		p.reply(hdr, conn, path, err)
		return
	}
	p.replyWithEvicted(hdr, conn, path, evicted)
}

func (p *Pool) doAppend(hdr *protocol.RequestHeader, conn net.Conn, path string, buf []byte) {
	evicted, err := p.st.Append(path, hdr.ClientID, buf)
	if err != nil {
		p.reply(hdr, conn, path, err)
		return
	}
	p.replyWithEvicted(hdr, conn, path, evicted)
}

func (p *Pool) doLock(hdr *protocol.RequestHeader, conn net.Conn, path string, done chan<- struct{}) bool {
	wait, err := p.st.Lock(path, hdr.ClientID, conn)
	if err == store.ErrWouldBlock {
		go p.awaitGrant(hdr, conn, path, wait, done)
		return false
	}
	p.reply(hdr, conn, path, err)
	return true
}

func (p *Pool) doUnlock(hdr *protocol.RequestHeader, conn net.Conn, path string) {
	err := p.st.Unlock(path, hdr.ClientID)
	p.reply(hdr, conn, path, err)
}

func (p *Pool) doRemove(hdr *protocol.RequestHeader, conn net.Conn, path string) {
	err := p.st.Remove(path, hdr.ClientID)
	p.reply(hdr, conn, path, err)
}
