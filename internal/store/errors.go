package store

import (
	"errors"
	"fmt"

	"github.com/etrian-dev/ramfsd/internal/protocol"
)

// OpError is a tagged protocol/authorisation or capacity failure. The
// worker maps it directly onto a reply frame's errcode.
type OpError struct {
	Code protocol.ErrCode
}

func (e *OpError) Error() string { return e.Code.String() }

func errOf(code protocol.ErrCode) error { return &OpError{Code: code} }

// ErrWouldBlock is returned by Open/Lock when the caller has been queued as
// a waiter rather than failed or succeeded outright. It is not a reply-level
// error: the worker must suspend the session on the returned wait channel.
var ErrWouldBlock = errors.New("store: would block")

// ErrFileGone is delivered on a waiter's channel when the file it was
// waiting on was removed or evicted while queued.
var ErrFileGone = errors.New("store: file gone while waiting")

// ErrConsistency marks an internal invariant violated during eviction
// recovery. No code path constructs it, since eviction never fails part
// way. The worker never maps it to a reply; it only logs it and does not
// stop the server.
type ErrConsistency struct {
	Detail string
}

func (e *ErrConsistency) Error() string {
	return fmt.Sprintf("store: internal consistency failure: %s", e.Detail)
}
