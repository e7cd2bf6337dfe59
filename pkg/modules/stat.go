package modules

import (
	"context"
	"fmt"
)

// statModule backs stat/win_stat: a read-only path query whose result feeds
// a register for later when/template use. Never reports Changed.
type statModule struct {
	windows bool
}

func (m *statModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	path := args.str("path")
	if path == "" {
		return Result{}, fmt.Errorf("stat requires path")
	}
	info, err := mctx.Conn.Stat(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("can't stat %s: %w", path, err)
	}

	facts := map[string]any{
		"exists":   info.Exists,
		"isdir":    info.IsDir,
		"islnk":    info.IsLink,
		"size":     info.Size,
		"mode":     info.Mode,
		"checksum": info.Checksum,
	}
	if !info.ModTime.IsZero() {
		facts["mtime"] = info.ModTime.Unix()
	}
	return Result{Changed: false, Facts: map[string]any{"stat": facts}}, nil
}
