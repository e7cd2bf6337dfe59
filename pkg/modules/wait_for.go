package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/umputun/fleetplay/pkg/transport"
)

// waitForModule backs wait_for/win_wait_for: poll a path or TCP port on a
// fixed interval until it reaches the desired state or the timeout expires.
type waitForModule struct {
	windows bool
}

func (m *waitForModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	state := args.str("state")
	if state == "" {
		state = "started"
	}
	timeout := 300 * time.Second
	if t, ok := args["timeout"].(float64); ok && t > 0 {
		timeout = time.Duration(t) * time.Second
	}
	checkEvery := 1 * time.Second

	probe, err := m.probeFor(args, state)
	if err != nil {
		return Result{}, err
	}

	if mctx.CheckMode {
		return Result{Changed: false, Skipped: true, Reason: "check mode: wait_for is never simulated"}, nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		ok, err := probe(ctx, mctx)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{Changed: false, Msg: "condition met"}, nil
		}
		if time.Now().After(deadline) {
			return Result{Failed: true, Msg: fmt.Sprintf("timeout after %s waiting for condition", timeout)}, nil
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

type probeFunc func(ctx context.Context, mctx *Context) (bool, error)

func (m *waitForModule) probeFor(args Args, state string) (probeFunc, error) {
	if path := args.str("path"); path != "" {
		return func(ctx context.Context, mctx *Context) (bool, error) {
			info, err := mctx.Conn.Stat(ctx, path)
			if err != nil {
				return false, err
			}
			if state == "absent" {
				return !info.Exists, nil
			}
			return info.Exists, nil
		}, nil
	}
	if portVal, ok := args["port"]; ok {
		port := fmt.Sprintf("%v", portVal)
		host := args.str("host")
		if host == "" {
			host = "127.0.0.1"
		}
		return func(ctx context.Context, mctx *Context) (bool, error) {
			cmd := fmt.Sprintf("(echo > /dev/tcp/%s/%s) >/dev/null 2>&1", host, port)
			shell := transport.ShellPOSIX
			if m.windows {
				cmd = fmt.Sprintf("Test-NetConnection -ComputerName %q -Port %s -InformationLevel Quiet", host, port)
				shell = transport.ShellPowerShell
			}
			res, err := mctx.Conn.Run(ctx, cmd, transport.RunOpts{Shell: shell})
			if err != nil {
				return false, nil // unreachable target != probe error, keep polling
			}
			open := res.RC == 0
			if state == "drained" || state == "absent" {
				return !open, nil
			}
			return open, nil
		}, nil
	}
	return nil, fmt.Errorf("wait_for requires either path or port")
}
