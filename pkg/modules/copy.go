package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// copyModule backs copy/win_copy: a plain Put/Get unless a hash match makes
// the transfer a no-op, checked through transport.Connection.Stat.
type copyModule struct {
	windows bool
}

func (m *copyModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	src := args.str("src")
	dst := args.str("dest")
	if src == "" || dst == "" {
		return Result{}, fmt.Errorf("copy requires both src and dest")
	}
	mode := args.str("mode")

	localInfo, err := os.Stat(src)
	if err != nil {
		return Result{}, fmt.Errorf("can't stat local source %s: %w", src, err)
	}
	if localInfo.IsDir() {
		return Result{}, fmt.Errorf("copy of a directory tree (%s) is not supported, use synchronize instead", src)
	}

	remote, err := mctx.Conn.Stat(ctx, dst)
	if err != nil {
		return Result{}, fmt.Errorf("can't stat remote destination %s: %w", dst, err)
	}

	localSum, err := localChecksum(src)
	if err != nil {
		return Result{}, err
	}
	if remote.Exists && !remote.IsDir && remote.Checksum == localSum && args.boolDefault("force", true) {
		return Result{Changed: false, Msg: "destination already matches source checksum"}, nil
	}

	if mctx.CheckMode {
		return Result{Changed: true, Skipped: true, Reason: "check mode: file would be copied"}, nil
	}

	if args.boolDefault("mkdir", false) {
		if err := mctx.Conn.Mkdir(ctx, filepath.Dir(dst), "0755"); err != nil {
			return Result{}, fmt.Errorf("can't create parent directory for %s: %w", dst, err)
		}
	}
	if err := mctx.Conn.Put(ctx, src, dst, mode); err != nil {
		return Result{}, fmt.Errorf("can't copy %s to %s: %w", src, dst, err)
	}

	res := Result{Changed: true, Msg: fmt.Sprintf("copied %s to %s", src, dst)}
	if mctx.DiffMode {
		res.Diff = &Diff{BeforeHeader: dst + " (before)", AfterHeader: dst + " (after)", After: localSum}
	}
	return res, nil
}

func localChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("can't read %s: %w", path, err)
	}
	return sha256Hex(data), nil
}
