package modules

import (
	"context"
	"fmt"

	"github.com/umputun/fleetplay/pkg/transport"
)

// fileModule backs file/win_file: declarative path-state management
// (absent/directory/touch/file/link), following the plain-rm-vs-sudo-rm-rf
// idiom generalized to the other states §4.4 documents.
type fileModule struct {
	windows bool
}

func (m *fileModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	path := args.str("path")
	if path == "" {
		path = args.str("dest")
	}
	if path == "" {
		return Result{}, fmt.Errorf("file requires path")
	}
	state := args.str("state")
	if state == "" {
		state = "file"
	}

	info, err := mctx.Conn.Stat(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("can't stat %s: %w", path, err)
	}

	switch state {
	case "absent":
		return m.ensureAbsent(ctx, mctx, path, info)
	case "directory":
		return m.ensureDirectory(ctx, mctx, path, info, args.str("mode"))
	case "touch":
		return m.touch(ctx, mctx, path, info)
	case "file":
		if !info.Exists {
			return Result{Failed: true, Msg: fmt.Sprintf("%s does not exist", path)}, nil
		}
		return Result{Changed: false}, nil
	case "link":
		return Result{}, fmt.Errorf("file state=link requires a symlink-capable transport, not yet supported")
	default:
		return Result{}, fmt.Errorf("unsupported file state %q", state)
	}
}

func (m *fileModule) ensureAbsent(ctx context.Context, mctx *Context, path string, info transport.FileInfo) (Result, error) {
	if !info.Exists {
		return Result{Changed: false}, nil
	}
	if mctx.CheckMode {
		return Result{Changed: true, Skipped: true, Reason: "check mode: would remove " + path}, nil
	}
	cmd, shell := m.removeCommand(path, info.IsDir)
	if _, err := mctx.Conn.Run(ctx, cmd, transport.RunOpts{Shell: shell}); err != nil {
		return Result{}, fmt.Errorf("can't remove %s: %w", path, err)
	}
	return Result{Changed: true, Msg: "removed " + path}, nil
}

func (m *fileModule) ensureDirectory(ctx context.Context, mctx *Context, path string, info transport.FileInfo, mode string) (Result, error) {
	if info.Exists {
		if !info.IsDir {
			return Result{Failed: true, Msg: fmt.Sprintf("%s exists and is not a directory", path)}, nil
		}
		return Result{Changed: false}, nil
	}
	if mctx.CheckMode {
		return Result{Changed: true, Skipped: true, Reason: "check mode: would create directory " + path}, nil
	}
	if err := mctx.Conn.Mkdir(ctx, path, mode); err != nil {
		return Result{}, fmt.Errorf("can't create directory %s: %w", path, err)
	}
	return Result{Changed: true, Msg: "created directory " + path}, nil
}

func (m *fileModule) touch(ctx context.Context, mctx *Context, path string, info transport.FileInfo) (Result, error) {
	if info.Exists {
		return Result{Changed: false}, nil
	}
	if mctx.CheckMode {
		return Result{Changed: true, Skipped: true, Reason: "check mode: would touch " + path}, nil
	}
	cmd, shell := m.touchCommand(path)
	if _, err := mctx.Conn.Run(ctx, cmd, transport.RunOpts{Shell: shell}); err != nil {
		return Result{}, fmt.Errorf("can't touch %s: %w", path, err)
	}
	return Result{Changed: true, Msg: "created " + path}, nil
}

func (m *fileModule) removeCommand(path string, isDir bool) (string, transport.Shell) {
	if m.windows {
		if isDir {
			return fmt.Sprintf("Remove-Item -Recurse -Force -LiteralPath %q", path), transport.ShellPowerShell
		}
		return fmt.Sprintf("Remove-Item -Force -LiteralPath %q", path), transport.ShellPowerShell
	}
	return fmt.Sprintf("rm -rf %q", path), transport.ShellPOSIX
}

func (m *fileModule) touchCommand(path string) (string, transport.Shell) {
	if m.windows {
		return fmt.Sprintf("New-Item -ItemType File -Force -Path %q | Out-Null", path), transport.ShellPowerShell
	}
	return fmt.Sprintf("touch %q", path), transport.ShellPOSIX
}
