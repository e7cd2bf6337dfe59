package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/umputun/fleetplay/pkg/transport"
)

// commandModule backs command/shell/raw and their win_ counterparts, with
// shell wrapping (`set -e`), shebang detection, and script-file handling.
type commandModule struct {
	raw     bool // raw: no "set -e"/shell wrapping conveniences, closest to a bare exec
	shell   bool // shell: runs through a shell so pipes/redirects/globs work
	windows bool
}

func (m *commandModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	cmdStr := m.scriptFrom(args)
	if cmdStr == "" {
		return Result{}, fmt.Errorf("command requires a non-empty command string")
	}

	if mctx.CheckMode && !m.raw {
		return Result{Changed: true, Skipped: true, Reason: "command modules cannot safely simulate state changes"}, nil
	}

	opts := transport.RunOpts{Verbose: true}
	if m.windows {
		opts.Shell = transport.ShellPowerShell
	} else if m.shell {
		opts.Shell = transport.ShellPOSIX
	} else {
		opts.Shell = transport.ShellNone
	}
	if wd, ok := args["chdir"].(string); ok {
		opts.WorkDir = wd
	}
	if env, ok := args["environment"].(map[string]any); ok {
		opts.Env = map[string]string{}
		for k, v := range env {
			opts.Env[k] = fmt.Sprintf("%v", v)
		}
	}

	res, err := mctx.Conn.Run(ctx, cmdStr, opts)
	if err != nil {
		return Result{}, err
	}

	out := Result{
		Changed: true, // commands are assumed to change state unless changed_when overrides it
		RC:      res.RC,
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
	}
	if res.RC != 0 {
		out.Failed = true
		out.Msg = fmt.Sprintf("non-zero exit status %d", res.RC)
	}
	return out, nil
}

// scriptFrom accepts either a free-form "_raw_params"/top-level string
// argument or a "cmd" key, matching §4.4's free-form-string normalization.
func (m *commandModule) scriptFrom(args Args) string {
	if s, ok := args["_raw_params"].(string); ok && s != "" {
		return s
	}
	if s, ok := args["cmd"].(string); ok && s != "" {
		return s
	}
	var parts []string
	for k, v := range args {
		if k == "chdir" || k == "environment" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
