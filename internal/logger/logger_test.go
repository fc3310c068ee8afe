package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordLine matches "[<ctime>] <message>" with an optional ": <error>"
// suffix, e.g. "[Mon Jan  2 15:04:05 2006] something happened: oh no".
var recordLine = regexp.MustCompile(`^\[[A-Z][a-z]{2} [A-Z][a-z]{2} [ \d]\d \d{2}:\d{2}:\d{2} \d{4}\] `)

func TestHandleFormatsPlainRecord(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRecordHandler(&buf, slog.LevelInfo))

	log.Info("server started")

	line := buf.String()
	require.Regexp(t, recordLine, line)
	assert.Contains(t, line, "server started\n")
}

func TestHandleAppendsErrnoSuffix(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRecordHandler(&buf, slog.LevelInfo))

	log.Warn("operation failed", ErrAttr(errors.New("no such file")))

	line := buf.String()
	require.Regexp(t, recordLine, line)
	assert.Contains(t, line, "operation failed: no such file\n")
}

func TestHandleRendersExtraAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRecordHandler(&buf, slog.LevelInfo))

	log.Info("server started", "sock_path", "/tmp/s.sock")

	assert.Contains(t, buf.String(), "sock_path=/tmp/s.sock")
}

func TestEnabledRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRecordHandler(&buf, slog.LevelWarn))

	log.Info("too quiet to appear")
	assert.Empty(t, buf.String())

	log.Warn("loud enough")
	assert.Contains(t, buf.String(), "loud enough")
}

func TestErrAttrNilIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRecordHandler(&buf, slog.LevelInfo))

	log.Info("fine", ErrAttr(nil))

	line := buf.String()
	assert.Contains(t, line, "fine\n")
	assert.NotContains(t, line, "=")
}
