package modules

import (
	"context"
	"strings"

	"github.com/umputun/fleetplay/pkg/transport"
)

// setupModule gathers a minimal fact set (hostname, OS family, distribution,
// architecture) by running a handful of portable probe commands, sourced
// live from the target instead of from inventory-resolved strings.
type setupModule struct{}

func (m *setupModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	facts := map[string]any{
		"ansible_hostname":     mctx.HostName,
		"ansible_architecture": m.probe(ctx, mctx, "uname -m"),
		"ansible_system":       m.probe(ctx, mctx, "uname -s"),
		"ansible_kernel":       m.probe(ctx, mctx, "uname -r"),
	}

	if distro := m.probe(ctx, mctx, "cat /etc/os-release 2>/dev/null | grep -m1 '^ID=' | cut -d= -f2"); distro != "" {
		facts["ansible_distribution"] = strings.Trim(distro, `"`)
	}

	return Result{Changed: false, Facts: map[string]any{"ansible_facts": facts}}, nil
}

func (m *setupModule) probe(ctx context.Context, mctx *Context, cmd string) string {
	res, err := mctx.Conn.Run(ctx, cmd, transport.RunOpts{Shell: transport.ShellPOSIX})
	if err != nil || res.RC != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}
