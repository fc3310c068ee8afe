// Package term implements the two-mode termination protocol. SIGHUP requests a slow shutdown (stop accepting, drain
// every live session, then exit cleanly); SIGINT/SIGQUIT request a fast
// shutdown (stop accepting, drop every live connection, discard queued
// work). SIGPIPE is ignored process-wide so a client disconnecting mid-write
// surfaces as an ordinary write error rather than killing the process.
// Extended from a single signal-driven shutdown path to two distinct
// signal sets.
package term

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etrian-dev/ramfsd/internal/dispatcher"
	"github.com/etrian-dev/ramfsd/internal/queue"
	"github.com/etrian-dev/ramfsd/internal/session"
	"github.com/etrian-dev/ramfsd/internal/stats"
	"github.com/etrian-dev/ramfsd/internal/store"
)

// drainPollInterval governs how often slowShutdown re-checks the session
// table while waiting for every client to disconnect on its own.
const drainPollInterval = 50 * time.Millisecond

// Mode identifies which termination procedure was requested.
type Mode int

const (
	// ModeSlow is requested by SIGHUP: stop accepting new connections,
	// wait for every currently-connected client to disconnect on its own,
	// then drain the queue and exit.
	ModeSlow Mode = iota
	// ModeFast is requested by SIGINT/SIGQUIT: stop accepting, forcibly
	// close every live connection, discard queued work immediately.
	ModeFast
)

// Coordinator owns the signal handling and the shutdown sequence. It is
// the only component in the process that registers with signal.Notify.
type Coordinator struct {
	ln         listener
	jobs       *queue.Queue
	sessions   *session.Table
	st         *store.Store
	workerDone func()
	poolSize   int
	log        *slog.Logger

	sigCh chan os.Signal
}

// listener is the subset of net.Listener/*dispatcher.Dispatcher needed to
// stop accepting connections.
type listener interface {
	Close() error
}

// New creates a Coordinator for the given dispatcher, job queue, session
// table, and store. poolSize is the number of FAST_TERM sentinels to
// enqueue on a fast shutdown, one per worker goroutine.
func New(d *dispatcher.Dispatcher, jobs *queue.Queue, sessions *session.Table, st *store.Store, poolSize int, log *slog.Logger) *Coordinator {
	return &Coordinator{
		ln:       d,
		jobs:     jobs,
		sessions: sessions,
		st:       st,
		poolSize: poolSize,
		log:      log,
		sigCh:    make(chan os.Signal, 4),
	}
}

// Wait blocks until SIGHUP, SIGINT, or SIGQUIT arrives, then runs the
// corresponding shutdown procedure and returns the mode that fired.
func (c *Coordinator) Wait() Mode {
	signal.Ignore(syscall.SIGPIPE)
	signal.Notify(c.sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(c.sigCh)

	sig := <-c.sigCh
	switch sig {
	case syscall.SIGHUP:
		c.log.Info("slow termination requested")
		c.slowShutdown()
		return ModeSlow
	default:
		c.log.Info("fast termination requested")
		c.fastShutdown()
		return ModeFast
	}
}

// fastShutdown stops accepting, drops every live session's socket, clears
// any queued-but-unstarted work, and wakes every worker with a sentinel job
// so each one exits instead of blocking on an empty queue forever.
func (c *Coordinator) fastShutdown() {
	_ = c.ln.Close()
	c.sessions.CloseAll()
	c.jobs.Clear()
	for i := 0; i < c.poolSize; i++ {
		c.jobs.Enqueue(queue.Job{})
	}
	c.jobs.Close()
}

// slowShutdown stops accepting new connections but leaves every live
// session to finish on its own; once the session table drains to zero, the
// queue is closed so idle workers exit once it empties.
func (c *Coordinator) slowShutdown() {
	_ = c.ln.Close()
	for c.sessions.Len() > 0 {
		c.jobs.Broadcast()
		time.Sleep(drainPollInterval)
	}
	c.jobs.Close()
}

// Report prints and logs the shutdown statistics banner: historical maxima, eviction count, and the files
// still resident at shutdown.
func (c *Coordinator) Report(w reportWriter) {
	snap := c.st.Counters()
	remaining := make([]stats.RemainingFile, 0)
	for _, b := range c.st.ReadN(0) {
		remaining = append(remaining, stats.RemainingFile{Path: b.Path, Size: int64(len(b.Payload))})
	}
	stats.PrintShutdownReport(w, snap, remaining)
	c.log.Info("server terminated",
		"max_bytes", snap.MaxBytes,
		"max_files", snap.MaxFiles,
		"evictions", snap.EvictionInvocations,
		"max_clients", snap.MaxConnectedClients)
}

type reportWriter interface {
	Write(p []byte) (n int, err error)
}
