package modules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/fleetplay/pkg/transport"
)

// fakeConn is a minimal in-memory transport.Connection double for module
// tests.
type fakeConn struct {
	runFunc func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error)
	files   map[string]string
	stats   map[string]transport.FileInfo
	puts    []string
	mkdirs  []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{files: map[string]string{}, stats: map[string]transport.FileInfo{}}
}

func (f *fakeConn) Connect(ctx context.Context) error { return nil }

func (f *fakeConn) Run(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
	if f.runFunc != nil {
		return f.runFunc(ctx, cmd, opts)
	}
	return transport.RunResult{RC: 0}, nil
}

func (f *fakeConn) Put(ctx context.Context, local, remote, mode string) error {
	f.puts = append(f.puts, remote)
	return nil
}

func (f *fakeConn) Get(ctx context.Context, remote, local string) error { return nil }

func (f *fakeConn) Mkdir(ctx context.Context, remote, mode string) error {
	f.mkdirs = append(f.mkdirs, remote)
	return nil
}

func (f *fakeConn) Stat(ctx context.Context, remote string) (transport.FileInfo, error) {
	if fi, ok := f.stats[remote]; ok {
		return fi, nil
	}
	return transport.FileInfo{}, nil
}

func (f *fakeConn) Close() error { return nil }

func TestCommandModule_Run(t *testing.T) {
	conn := newFakeConn()
	conn.runFunc = func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
		assert.Equal(t, "echo hi", cmd)
		return transport.RunResult{RC: 0, Stdout: "hi\n"}, nil
	}
	mod := &commandModule{raw: false, shell: true}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{"_raw_params": "echo hi"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 0, res.RC)
	assert.Contains(t, res.Stdout, "hi")
}

func TestCommandModule_NonZeroExit(t *testing.T) {
	conn := newFakeConn()
	conn.runFunc = func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
		return transport.RunResult{RC: 1, Stderr: "boom"}, nil
	}
	mod := &commandModule{raw: true, shell: true}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{"_raw_params": "false"})
	require.NoError(t, err)
	assert.True(t, res.Failed)
}

func TestCommandModule_checkModeSkipsNonRaw(t *testing.T) {
	conn := newFakeConn()
	mod := &commandModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn, CheckMode: true}, Args{"_raw_params": "echo hi"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestFileModule_directory(t *testing.T) {
	conn := newFakeConn()
	mod := &fileModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{"path": "/opt/app", "state": "directory"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"/opt/app"}, conn.mkdirs)
}

func TestFileModule_directoryAlreadyExists(t *testing.T) {
	conn := newFakeConn()
	conn.stats["/opt/app"] = transport.FileInfo{Exists: true, IsDir: true}
	mod := &fileModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{"path": "/opt/app", "state": "directory"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, conn.mkdirs)
}

func TestFileModule_absentCheckMode(t *testing.T) {
	conn := newFakeConn()
	conn.stats["/tmp/x"] = transport.FileInfo{Exists: true}
	mod := &fileModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn, CheckMode: true}, Args{"path": "/tmp/x", "state": "absent"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Skipped)
}

func TestLineInFileModule_appendsWhenAbsent(t *testing.T) {
	conn := newFakeConn()
	var written string
	conn.runFunc = func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
		if len(opts.Stdin) > 0 {
			written = string(opts.Stdin)
			return transport.RunResult{RC: 0}, nil
		}
		return transport.RunResult{RC: 0, Stdout: "foo\nbar\n"}, nil
	}
	mod := &lineInFileModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{
		"path": "/etc/conf", "regexp": "^baz", "line": "baz=1",
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Contains(t, written, "baz=1")
}

func TestReplaceModule_noChangeWhenNoMatch(t *testing.T) {
	conn := newFakeConn()
	conn.runFunc = func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
		return transport.RunResult{RC: 0, Stdout: "hello world\n"}, nil
	}
	mod := &replaceModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{
		"path": "/tmp/f", "regexp": "nomatch", "replace": "x",
	})
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestPingModule(t *testing.T) {
	conn := newFakeConn()
	mod := &pingModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Msg)
}

func TestAssertModule(t *testing.T) {
	mod := &assertModule{}
	res, err := mod.Run(context.Background(), &Context{}, Args{"that": []any{true, true}})
	require.NoError(t, err)
	assert.False(t, res.Failed)

	res, err = mod.Run(context.Background(), &Context{}, Args{"that": []any{true, false}, "fail_msg": "nope"})
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, "nope", res.Msg)
}

func TestSetFactModule(t *testing.T) {
	mod := &setFactModule{}
	res, err := mod.Run(context.Background(), &Context{}, Args{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Facts["x"])
}

func TestWaitForModule_pathAppearsImmediately(t *testing.T) {
	conn := newFakeConn()
	conn.stats["/tmp/ready"] = transport.FileInfo{Exists: true}
	mod := &waitForModule{}
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{"path": "/tmp/ready", "timeout": float64(2)})
	require.NoError(t, err)
	assert.False(t, res.Failed)
}

func TestWaitForModule_timesOut(t *testing.T) {
	conn := newFakeConn()
	mod := &waitForModule{}
	start := time.Now()
	res, err := mod.Run(context.Background(), &Context{Conn: conn}, Args{"path": "/tmp/never", "timeout": float64(1)})
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	m, err := r.Resolve("copy")
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = r.Resolve("ansible.builtin.copy")
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = r.Resolve("nope.nothere")
	require.Error(t, err)
}
