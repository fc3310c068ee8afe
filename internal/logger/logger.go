// Package logger implements the log writer: timestamped
// records serialised under one mutex, in the format
// "[<ctime>] <message>[: <errno-string>]\n". It is built as a hand-written
// slog.Handler rather than reaching for a third-party structured-logging
// library.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// RecordHandler writes one line per record in the server's log format.
// Every writer holds mu across one whole record.
type RecordHandler struct {
	mu  *sync.Mutex
	w   io.Writer
	lvl slog.Leveler
}

// NewRecordHandler creates a handler writing to w at or above minLevel.
func NewRecordHandler(w io.Writer, minLevel slog.Leveler) *RecordHandler {
	if minLevel == nil {
		minLevel = slog.LevelInfo
	}
	return &RecordHandler{mu: &sync.Mutex{}, w: w, lvl: minLevel}
}

func (h *RecordHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl.Level()
}

// Handle formats the record as "[<ctime>] <message>[: <errno-string>]\n".
// The "errno" attribute, if present among the record's attrs, is rendered
// as the trailing ": <error>" suffix; all other attrs are appended as
// "key=value" for operator-facing context.
func (h *RecordHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format(time.ANSIC)

	var errSuffix string
	var extra []string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "" {
			return true
		}
		if a.Key == "errno" {
			if errVal, ok := a.Value.Any().(error); ok && errVal != nil {
				errSuffix = fmt.Sprintf(": %s", errVal.Error())
			} else if s := a.Value.String(); s != "" {
				errSuffix = fmt.Sprintf(": %s", s)
			}
			return true
		}
		extra = append(extra, fmt.Sprintf("%s=%s", a.Key, a.Value.String()))
		return true
	})

	line := fmt.Sprintf("[%s] %s%s", ts, r.Message, errSuffix)
	for _, kv := range extra {
		line += " " + kv
	}
	line += "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *RecordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Records are short-lived per call site; pre-bound attrs are rendered
	// the same way as per-record attrs via a thin wrapping handler.
	return &boundHandler{parent: h, attrs: attrs}
}

func (h *RecordHandler) WithGroup(_ string) slog.Handler { return h }

type boundHandler struct {
	parent *RecordHandler
	attrs  []slog.Attr
}

func (b *boundHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return b.parent.Enabled(ctx, level)
}

func (b *boundHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(b.attrs...)
	return b.parent.Handle(ctx, r)
}

func (b *boundHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &boundHandler{parent: b.parent, attrs: append(append([]slog.Attr{}, b.attrs...), attrs...)}
}

func (b *boundHandler) WithGroup(name string) slog.Handler { return b }

// New opens path (creating/appending) and returns a *slog.Logger writing
// through RecordHandler, plus the underlying file so callers can close it
// on shutdown.
func New(path string) (*slog.Logger, io.Closer, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(NewRecordHandler(f, slog.LevelInfo)), f, nil
}

// ErrAttr wraps err as the "errno" attribute RecordHandler renders as the
// ": <error>" suffix.
func ErrAttr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("errno", err)
}
