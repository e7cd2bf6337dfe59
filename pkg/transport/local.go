package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/go-pkgz/fileutils"
)

// Local runs commands in a child process on the control node itself and
// copies files with plain os calls.
type Local struct {
	connected bool
}

func NewLocal(HostConfig) (Connection, error) { return &Local{}, nil }

func (l *Local) Connect(context.Context) error { l.connected = true; return nil }

func (l *Local) Run(ctx context.Context, command string, opts RunOpts) (RunResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	shell := "/bin/sh"
	if s := os.Getenv("SHELL"); s != "" {
		shell = s
	}

	var cmd *exec.Cmd
	if opts.Shell == ShellNone {
		parts, err := splitArgs(command)
		if err != nil {
			return RunResult{}, err
		}
		if len(parts) == 0 {
			return RunResult{}, fmt.Errorf("empty command")
		}
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...) // nolint
	} else {
		cmd = exec.CommandContext(ctx, shell, "-c", command) // nolint
	}

	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if len(opts.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	rc := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			return RunResult{}, &UnreachableError{Host: "localhost", Err: err}
		}
	}
	return RunResult{RC: rc, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (l *Local) Put(_ context.Context, localPath, remotePath string, mode string) error {
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o750); err != nil {
		return fmt.Errorf("can't create local dir %s: %w", filepath.Dir(remotePath), err)
	}
	if err := fileutils.CopyFile(localPath, remotePath); err != nil {
		return err
	}
	if mode != "" {
		if v, err := strconv.ParseUint(mode, 8, 32); err == nil {
			if err := os.Chmod(remotePath, os.FileMode(v)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Local) Get(_ context.Context, remotePath, localPath string) error {
	return l.Put(context.Background(), remotePath, localPath, "")
}

func (l *Local) Mkdir(_ context.Context, remotePath string, mode string) error {
	perm := os.FileMode(0o750)
	if mode != "" {
		if v, err := strconv.ParseUint(mode, 8, 32); err == nil {
			perm = os.FileMode(v)
		}
	}
	return os.MkdirAll(remotePath, perm)
}

func (l *Local) Stat(_ context.Context, remotePath string) (FileInfo, error) {
	info, err := os.Lstat(remotePath)
	if os.IsNotExist(err) {
		return FileInfo{Exists: false}, nil
	}
	if err != nil {
		return FileInfo{}, err
	}
	fi := FileInfo{
		Exists:  true,
		IsDir:   info.IsDir(),
		IsLink:  info.Mode()&os.ModeSymlink != 0,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    fmt.Sprintf("%04o", info.Mode().Perm()),
	}
	if !fi.IsDir {
		if sum, err := fileChecksum(remotePath); err == nil {
			fi.Checksum = sum
		}
	}
	return fi, nil
}

func (l *Local) Close() error { return nil }

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path) // nolint
	if err != nil {
		return "", err
	}
	defer f.Close() // nolint

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// splitArgs does minimal shell-word splitting for the shell=none execution
// mode (no quoting support beyond plain whitespace, matching the contract's
// "none" meaning "exec directly, no shell interpretation of quotes/globs").
func splitArgs(s string) ([]string, error) {
	var args []string
	var cur []rune
	inQuote := rune(0)
	for _, c := range s {
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			} else {
				cur = append(cur, c)
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == ' ' || c == '\t':
			if len(cur) > 0 {
				args = append(args, string(cur))
				cur = nil
			}
		default:
			cur = append(cur, c)
		}
	}
	if inQuote != 0 {
		return nil, fmt.Errorf("unterminated quote in command")
	}
	if len(cur) > 0 {
		args = append(args, string(cur))
	}
	return args, nil
}
