package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/masterzen/winrm"
)

// WinRM speaks Microsoft's Windows Remote Shell protocol: a request/response
// envelope that carries text commands only. Concurrent calls on one session
// are serialized by the underlying client, matching §4.3's "logically
// synchronous per session" constraint. The command/upload flow below follows
// the same stat-compare, mkdir-then-transfer, cleanup-on-failure shape as
// the SSH transport's SFTP path.
type WinRM struct {
	cfg    HostConfig
	client *winrm.Client
}

func NewWinRM(cfg HostConfig) (Connection, error) { return &WinRM{cfg: cfg}, nil }

func (w *WinRM) Connect(context.Context) error {
	if w.client != nil {
		return nil
	}
	port := w.cfg.Port
	if port == 0 {
		port = 5985
		if w.cfg.WinRMUseHTTPS {
			port = 5986
		}
	}
	timeout := w.cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	endpoint := winrm.NewEndpoint(w.cfg.Addr, port, w.cfg.WinRMUseHTTPS, w.cfg.WinRMInsecure, nil, nil, nil, timeout)
	client, err := winrm.NewClient(endpoint, w.cfg.User, w.cfg.Password)
	if err != nil {
		return &UnreachableError{Host: w.cfg.Name, Err: err}
	}
	w.client = client
	return nil
}

func (w *WinRM) Run(ctx context.Context, command string, opts RunOpts) (RunResult, error) {
	if w.client == nil {
		return RunResult{}, &UnreachableError{Host: w.cfg.Name, Err: fmt.Errorf("not connected")}
	}

	shell, err := w.client.CreateShell()
	if err != nil {
		return RunResult{}, &UnreachableError{Host: w.cfg.Name, Err: fmt.Errorf("create shell: %w", err)}
	}
	defer shell.Close() // nolint

	cmdStr := command
	if opts.Shell == ShellPowerShell {
		cmdStr = winrm.Powershell(command)
	}

	cmd, err := shell.Execute(cmdStr)
	if err != nil {
		return RunResult{}, &UnreachableError{Host: w.cfg.Name, Err: fmt.Errorf("execute: %w", err)}
	}

	var stdout, stderr bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&stdout, cmd.Stdout)
		close(done)
	}()
	go func() { _, _ = io.Copy(&stderr, cmd.Stderr) }()

	select {
	case <-ctx.Done():
		_ = cmd.Close()
		return RunResult{}, &UnreachableError{Host: w.cfg.Name, Err: ctx.Err()}
	case <-done:
	}
	cmd.Wait()

	return RunResult{RC: cmd.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (w *WinRM) Mkdir(ctx context.Context, remotePath string, _ string) error {
	_, err := w.Run(ctx, fmt.Sprintf(`cmd.exe /c if not exist %s mkdir %s`, cmdQuote(remotePath), cmdQuote(remotePath)), RunOpts{})
	return err
}

func (w *WinRM) Stat(ctx context.Context, remotePath string) (FileInfo, error) {
	script := fmt.Sprintf(`
$p = %s
if (Test-Path $p) {
  $i = Get-Item $p
  if ($i.PSIsContainer) { Write-Output "DIR|0|" }
  else {
    $h = (Get-FileHash -Path $p -Algorithm SHA256).Hash.ToLower()
    Write-Output ("FILE|" + $i.Length + "|" + $h)
  }
} else {
  Write-Output "MISSING|0|"
}`, psQuote(remotePath))
	res, err := w.Run(ctx, script, RunOpts{Shell: ShellPowerShell})
	if err != nil {
		return FileInfo{}, err
	}
	return parseStatOutput(res.Stdout), nil
}

func (w *WinRM) Close() error { return nil }

// parseStatOutput decodes the PIPE|SEP line produced by Stat's PowerShell
// probe: kind, size, and (for a plain file) a lowercase sha256 hex digest so
// copy's idempotence check (§8) can compare it against the local checksum.
func parseStatOutput(out string) FileInfo {
	line := strings.TrimSpace(out)
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 2 {
		return FileInfo{}
	}
	switch parts[0] {
	case "MISSING":
		return FileInfo{Exists: false}
	case "DIR":
		return FileInfo{Exists: true, IsDir: true}
	case "FILE":
		size, _ := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		fi := FileInfo{Exists: true, Size: size}
		if len(parts) == 3 {
			if sum := strings.TrimSpace(parts[2]); sum != "" {
				fi.Checksum = sum
			}
		}
		return fi
	default:
		return FileInfo{}
	}
}

func psQuote(s string) string {
	return "'" + quoteSingle(s) + "'"
}

// cmdQuote wraps a path in double quotes for a cmd.exe /c command line;
// cmd.exe has no concept of single-quote quoting, so a single-quoted path
// with a space or special character simply fails to resolve.
func cmdQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteSingle(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
