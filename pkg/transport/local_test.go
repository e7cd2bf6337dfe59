package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_RunBasic(t *testing.T) {
	l := &Local{}
	require.NoError(t, l.Connect(context.Background()))

	res, err := l.Run(context.Background(), "echo hello", RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RC)
	assert.Contains(t, res.Stdout, "hello")
}

func TestLocal_RunNonZeroExit(t *testing.T) {
	l := &Local{}
	res, err := l.Run(context.Background(), "exit 3", RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RC)
}

func TestLocal_PutGetMkdirStat(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	l := &Local{}
	dstPath := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, l.Put(context.Background(), srcPath, dstPath, "0640"))

	info, err := l.Stat(context.Background(), dstPath)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.False(t, info.IsDir)
	assert.Equal(t, int64(len("payload")), info.Size)
	assert.NotEmpty(t, info.Checksum)

	missing, err := l.Stat(context.Background(), filepath.Join(dir, "nope.txt"))
	require.NoError(t, err)
	assert.False(t, missing.Exists)

	require.NoError(t, l.Mkdir(context.Background(), filepath.Join(dir, "newdir"), "0750"))
	dirInfo, err := l.Stat(context.Background(), filepath.Join(dir, "newdir"))
	require.NoError(t, err)
	assert.True(t, dirInfo.IsDir)
}

func TestDial_unknownTransport(t *testing.T) {
	_, err := Dial("bogus", HostConfig{})
	require.Error(t, err)
}

func TestDial_known(t *testing.T) {
	for _, kind := range []string{"", "local", "ssh", "winrm"} {
		conn, err := Dial(kind, HostConfig{Name: "h1"})
		require.NoError(t, err)
		assert.NotNil(t, conn)
	}
}
