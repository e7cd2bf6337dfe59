package runner

import (
	"context"

	"github.com/umputun/fleetplay/pkg/transport"
)

// fakeConn is a minimal in-memory transport.Connection double, in the same
// style as pkg/modules' fakeConn.
type fakeConn struct {
	connectErr func() error
	runFunc    func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error)
	closed     bool
	runLog     []string
}

func (f *fakeConn) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr()
	}
	return nil
}

func (f *fakeConn) Run(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
	f.runLog = append(f.runLog, cmd)
	if f.runFunc != nil {
		return f.runFunc(ctx, cmd, opts)
	}
	return transport.RunResult{RC: 0}, nil
}

func (f *fakeConn) Put(ctx context.Context, local, remote, mode string) error { return nil }
func (f *fakeConn) Get(ctx context.Context, remote, local string) error      { return nil }
func (f *fakeConn) Mkdir(ctx context.Context, remote, mode string) error     { return nil }

func (f *fakeConn) Stat(ctx context.Context, remote string) (transport.FileInfo, error) {
	return transport.FileInfo{}, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// fakeDialer returns a Dialer that always hands back the same *fakeConn, so
// a test can inspect runLog/closed after the fact.
func fakeDialer(conn *fakeConn) transport.Dialer {
	return func(cfg transport.HostConfig) (transport.Connection, error) {
		return conn, nil
	}
}
