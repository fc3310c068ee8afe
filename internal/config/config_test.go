package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.NoError(t, err)
	assert.Equal(t, DefaultThreadPool, p.ThreadPoolSize)
	assert.EqualValues(t, DefaultMaxMemBytes, p.MaxMemBytes)
	assert.Equal(t, DefaultMaxFiles, p.MaxFiles)
	assert.Equal(t, DefaultSockPath, p.SockPath)
	assert.Equal(t, DefaultLogPath, p.LogPath)
}

func TestLoadParsesTabSeparatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.conf")
	content := "tpool\t20\nmaxmem\t1048576\nmaxfiles\t50\nsock_path\t/tmp/custom.sock\nlog_path\t/tmp/custom.log\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, p.ThreadPoolSize)
	assert.EqualValues(t, 1048576, p.MaxMemBytes)
	assert.Equal(t, 50, p.MaxFiles)
	assert.Equal(t, "/tmp/custom.sock", p.SockPath)
	assert.Equal(t, "/tmp/custom.log", p.LogPath)
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.conf")
	content := "this line has no tab\ntpool\t15\n\nmaxfiles\tnot-a-number\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, p.ThreadPoolSize)
	assert.Equal(t, DefaultMaxFiles, p.MaxFiles) // invalid value: default survives
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.conf")
	require.NoError(t, os.WriteFile(path, []byte("tpool\t5\n"), 0o644))

	t.Setenv("RAMFSD_TPOOL", "99")

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 99, p.ThreadPoolSize)
}

func TestParseParamFile(t *testing.T) {
	r := strings.NewReader("tpool\t10\nbad line without tab\nmaxfiles\t200\n")
	values := parseParamFile(r)
	assert.Equal(t, "10", values["tpool"])
	assert.Equal(t, "200", values["maxfiles"])
	_, ok := values["bad"]
	assert.False(t, ok)
}
