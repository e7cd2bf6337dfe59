package modules

import (
	"context"
	"fmt"

	"github.com/umputun/fleetplay/pkg/transport"
)

// pingModule verifies the transport can execute a command on the target; a
// connection-level failure surfaces as an UnreachableError from the
// transport itself, not as a module Result.
type pingModule struct{}

func (m *pingModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	res, err := mctx.Conn.Run(ctx, "echo pong", transport.RunOpts{})
	if err != nil {
		return Result{}, fmt.Errorf("ping failed: %w", err)
	}
	if res.RC != 0 {
		return Result{Failed: true, Msg: "ping command returned non-zero"}, nil
	}
	return Result{Changed: false, Msg: "pong"}, nil
}
