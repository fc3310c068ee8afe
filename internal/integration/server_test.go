// Package integration drives the dispatcher, worker pool, and store
// together over a real unix stream socket, exercising the protocol exactly
// as a client would, using an in-process harness rather than a subprocess
// since the admin HTTP surface (with its /healthz probe) is off unless a
// metrics address is configured.
package integration

import (
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/etrian-dev/ramfsd/internal/dispatcher"
	"github.com/etrian-dev/ramfsd/internal/protocol"
	"github.com/etrian-dev/ramfsd/internal/queue"
	"github.com/etrian-dev/ramfsd/internal/session"
	"github.com/etrian-dev/ramfsd/internal/store"
	"github.com/etrian-dev/ramfsd/internal/worker"
)

type harness struct {
	st   *store.Store
	d    *dispatcher.Dispatcher
	pool *worker.Pool
	ln   net.Listener
	sock string
}

func newHarness(t *testing.T, maxFiles int, maxBytes int64, workers int) *harness {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "ramfsd.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)

	st := store.New(maxFiles, maxBytes)
	sessions := session.NewTable()
	jobs := queue.New(0)
	log := testLogger(t)

	d := dispatcher.New(ln, jobs, sessions, log)
	d.OnDisconnect(func(id uint32) { st.ReleaseClient(id) })
	pool := worker.New(workers, jobs, st, sessions, log)
	pool.Start()
	go d.Run()

	h := &harness{st: st, d: d, pool: pool, ln: ln, sock: sock}
	t.Cleanup(func() {
		_ = d.Close()
		jobs.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", h.sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, op protocol.Op, clientID uint32, flags protocol.Flags, path string, payload []byte) {
	t.Helper()
	hdr := &protocol.RequestHeader{
		Type:     op,
		ClientID: clientID,
		Flags:    flags,
		PathLen:  uint32(len(path)),
		BufLen:   uint32(len(payload)),
	}
	require.NoError(t, protocol.WriteExact(conn, protocol.EncodeRequestHeader(hdr)))
	require.NoError(t, protocol.WriteExact(conn, []byte(path)))
	if len(payload) > 0 {
		require.NoError(t, protocol.WriteExact(conn, payload))
	}
}

func readReply(t *testing.T, conn net.Conn) (*protocol.ReplyHeader, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	hdr, err := protocol.DecodeReplyHeader(conn)
	require.NoError(t, err)
	if hdr.Status == protocol.StatusOK && hdr.PathsTotalLen > 0 && hdr.NBuffers <= 1 {
		payload := make([]byte, hdr.PathsTotalLen)
		require.NoError(t, protocol.ReadExact(conn, payload))
		return hdr, payload
	}
	return hdr, nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestOpenWriteReadCloseRoundTrip exercises the common path: open with
// create, write, read back, close.
func TestOpenWriteReadCloseRoundTrip(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 2)
	conn := h.dial(t)

	sendRequest(t, conn, protocol.OpOpenFile, 1, protocol.FlagCreate, "/greeting", nil)
	hdr, _ := readReply(t, conn)
	require.Equal(t, protocol.StatusOK, hdr.Status)

	sendRequest(t, conn, protocol.OpWrite, 1, 0, "/greeting", []byte("hello"))
	hdr, _ = readReply(t, conn)
	require.Equal(t, protocol.StatusOK, hdr.Status)

	sendRequest(t, conn, protocol.OpReadFile, 1, 0, "/greeting", nil)
	hdr, payload := readReply(t, conn)
	require.Equal(t, protocol.StatusOK, hdr.Status)
	require.Equal(t, "hello", string(payload))

	sendRequest(t, conn, protocol.OpCloseFile, 1, 0, "/greeting", nil)
	hdr, _ = readReply(t, conn)
	require.Equal(t, protocol.StatusOK, hdr.Status)
}

// TestOpenNoSuchFile exercises the failure path: opening a nonexistent
// file without O_CREATE fails with ErrNoSuchFile.
func TestOpenNoSuchFile(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 2)
	conn := h.dial(t)

	sendRequest(t, conn, protocol.OpOpenFile, 1, 0, "/missing", nil)
	hdr, _ := readReply(t, conn)
	require.Equal(t, protocol.StatusFail, hdr.Status)
	require.Equal(t, protocol.ErrNoSuchFile, hdr.ErrCode)
}

// TestWriteWithoutCreateAuthorisationFails exercises the write
// authorisation rule: write(path) is rejected unless it immediately
// follows this client's own open(path, O_CREATE).
func TestWriteWithoutCreateAuthorisationFails(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 2)
	conn := h.dial(t)

	sendRequest(t, conn, protocol.OpOpenFile, 1, protocol.FlagCreate, "/a", nil)
	readReply(t, conn)
	sendRequest(t, conn, protocol.OpCloseFile, 1, 0, "/a", nil)
	readReply(t, conn)

	// Re-open without O_CREATE, then attempt write: last successful op is
	// now OPEN_FILE without the create flag, so write must fail.
	sendRequest(t, conn, protocol.OpOpenFile, 1, 0, "/a", nil)
	readReply(t, conn)

	sendRequest(t, conn, protocol.OpWrite, 1, 0, "/a", []byte("nope"))
	hdr, _ := readReply(t, conn)
	require.Equal(t, protocol.StatusFail, hdr.Status)
}

// TestInterveningOpInvalidatesWriteAuthorisation covers the other way the
// rule can be broken: a successful append between the create-open and the
// write means the write no longer immediately follows the open.
func TestInterveningOpInvalidatesWriteAuthorisation(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 2)
	conn := h.dial(t)

	sendRequest(t, conn, protocol.OpOpenFile, 1, protocol.FlagCreate, "/b", nil)
	readReply(t, conn)

	sendRequest(t, conn, protocol.OpAppend, 1, 0, "/b", []byte("first"))
	hdr, _ := readReply(t, conn)
	require.Equal(t, protocol.StatusOK, hdr.Status)

	sendRequest(t, conn, protocol.OpWrite, 1, 0, "/b", []byte("late"))
	hdr, _ = readReply(t, conn)
	require.Equal(t, protocol.StatusFail, hdr.Status)
	require.Equal(t, protocol.ErrNotOpened, hdr.ErrCode)
}

// TestEvictionStreamsEvictedFileInReply exercises the eviction path: writing
// past capacity evicts the oldest file and streams it back ahead of the
// positive reply.
func TestEvictionStreamsEvictedFileInReply(t *testing.T) {
	h := newHarness(t, 10, 8, 2)
	conn := h.dial(t)

	sendRequest(t, conn, protocol.OpOpenFile, 1, protocol.FlagCreate, "/old", nil)
	readReply(t, conn)
	sendRequest(t, conn, protocol.OpWrite, 1, 0, "/old", []byte("1234"))
	readReply(t, conn)
	sendRequest(t, conn, protocol.OpCloseFile, 1, 0, "/old", nil)
	readReply(t, conn)

	sendRequest(t, conn, protocol.OpOpenFile, 1, protocol.FlagCreate, "/new", nil)
	readReply(t, conn)
	sendRequest(t, conn, protocol.OpWrite, 1, 0, "/new", []byte("12345"))

	hdr, err := protocol.DecodeReplyHeader(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, hdr.Status)
	require.EqualValues(t, 1, hdr.NBuffers)

	blocks, err := protocol.ReadMultiReply(conn, &protocol.ReplyHeader{NBuffers: hdr.NBuffers, PathsTotalLen: hdr.PathsTotalLen})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, "/old", blocks[0].Path)
	require.Equal(t, "1234", string(blocks[0].Payload))
}

// TestLockedFileBlocksSecondClientUntilUnlock runs with a single worker on
// purpose: the blocked lock request must not hold that worker hostage, or
// the unlock that should wake it could never be served.
func TestLockedFileBlocksSecondClientUntilUnlock(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 1)
	connA := h.dial(t)
	connB := h.dial(t)

	sendRequest(t, connA, protocol.OpOpenFile, 1, protocol.FlagCreate|protocol.FlagLock, "/f", nil)
	hdr, _ := readReply(t, connA)
	require.Equal(t, protocol.StatusOK, hdr.Status)

	// B's lock suspends server-side: no reply yet.
	sendRequest(t, connB, protocol.OpLock, 2, 0, "/f", nil)
	_ = connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	one := make([]byte, 1)
	_, err := connB.Read(one)
	require.Error(t, err, "client B must not receive a reply while A holds the lock")
	_ = connB.SetReadDeadline(time.Time{})

	sendRequest(t, connA, protocol.OpUnlock, 1, 0, "/f", nil)
	hdr, _ = readReply(t, connA)
	require.Equal(t, protocol.StatusOK, hdr.Status)

	hdr, _ = readReply(t, connB)
	require.Equal(t, protocol.StatusOK, hdr.Status)
}

// TestDisconnectReleasesHeldLock sends deliberately bogus client_id values
// on the wire: identity is the server's accept-order id, so a lock held by
// a dying client is released no matter what id the client claimed.
func TestDisconnectReleasesHeldLock(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 2)
	connA := h.dial(t)
	connB := h.dial(t)

	sendRequest(t, connA, protocol.OpOpenFile, 999, protocol.FlagCreate|protocol.FlagLock, "/f", nil)
	hdr, _ := readReply(t, connA)
	require.Equal(t, protocol.StatusOK, hdr.Status)

	sendRequest(t, connB, protocol.OpLock, 777, 0, "/f", nil)
	_ = connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	one := make([]byte, 1)
	_, err := connB.Read(one)
	require.Error(t, err, "client B must still be suspended while A holds the lock")
	_ = connB.SetReadDeadline(time.Time{})

	// A vanishes without unlocking; disconnect cleanup must free the lock.
	require.NoError(t, connA.Close())

	hdr, _ = readReply(t, connB)
	require.Equal(t, protocol.StatusOK, hdr.Status)
}

func TestAppendPastCapacityIsRejectedAsTooBig(t *testing.T) {
	h := newHarness(t, 10, 4, 2)
	conn := h.dial(t)

	sendRequest(t, conn, protocol.OpOpenFile, 1, protocol.FlagCreate, "/tiny", nil)
	readReply(t, conn)

	sendRequest(t, conn, protocol.OpAppend, 1, 0, "/tiny", []byte("12345678"))
	hdr, _ := readReply(t, conn)
	require.Equal(t, protocol.StatusFail, hdr.Status)
	require.Equal(t, protocol.ErrTooBig, hdr.ErrCode)

	snap := h.st.Counters()
	require.EqualValues(t, 0, snap.CurrentBytes)
}

func TestReadNStreamsOldestFilesFirst(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 2)
	conn := h.dial(t)

	for _, f := range []struct{ path, body string }{
		{"/first", "aa"}, {"/second", "bbb"},
	} {
		sendRequest(t, conn, protocol.OpOpenFile, 1, protocol.FlagCreate, f.path, nil)
		readReply(t, conn)
		sendRequest(t, conn, protocol.OpWrite, 1, 0, f.path, []byte(f.body))
		readReply(t, conn)
	}

	sendRequest(t, conn, protocol.OpReadN, 1, 0, "", protocol.EncodeCount(0))
	hdr, err := protocol.DecodeReplyHeader(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, hdr.Status)
	require.EqualValues(t, 2, hdr.NBuffers)

	blocks, err := protocol.ReadMultiReply(conn, hdr)
	require.NoError(t, err)
	require.Equal(t, "/first", blocks[0].Path)
	require.Equal(t, "aa", string(blocks[0].Payload))
	require.Equal(t, "/second", blocks[1].Path)
	require.Equal(t, "bbb", string(blocks[1].Payload))
}

func TestCloseConnStopsTheReadLoop(t *testing.T) {
	h := newHarness(t, 10, 1<<20, 2)
	conn := h.dial(t)

	sendRequest(t, conn, protocol.OpCloseConn, 1, 0, "", nil)
	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}
