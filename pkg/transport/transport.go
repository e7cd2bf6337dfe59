// Package transport implements the uniform connection contract (§4.3) over
// which every module executes: a local subprocess, an SSH session, and a
// Windows remote-shell session speaking a chunked, text-only upload protocol.
package transport

import (
	"context"
	"time"
)

// RunOpts configures a single command execution.
type RunOpts struct {
	Shell      Shell             // bash-style, PowerShell, or none (exec directly)
	Timeout    time.Duration     // zero means no timeout
	WorkDir    string            // empty means the session's default
	Env        map[string]string // additional environment variables
	Stdin      []byte            // optional input payload
	Verbose    bool              // mirror output to the logger as it streams
}

// Shell selects how a command string is interpreted by the target.
type Shell int

const (
	ShellPOSIX Shell = iota
	ShellPowerShell
	ShellNone
)

// RunResult carries a command's outcome. A non-zero RC with no Err means
// the command executed and failed; Err set means the transport itself
// couldn't run it (§4.3 "Failure classification").
type RunResult struct {
	RC     int
	Stdout string
	Stderr string
}

// FileInfo is the result of a stat() call.
type FileInfo struct {
	Exists   bool
	IsDir    bool
	IsLink   bool
	Size     int64
	ModTime  time.Time
	Mode     string // best-effort, platform-dependent textual mode
	Checksum string // best-effort content hash, empty if not computed
}

// UnreachableError marks a connection-level failure: the transport could
// not establish or maintain a session (dial failure, auth rejected, session
// lost). It is distinct from a command that ran and returned non-zero.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	return "host " + e.Host + " unreachable: " + e.Err.Error()
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Connection is the contract every transport implements. connect() is
// idempotent: calling it on an already-connected session is a no-op.
type Connection interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context, command string, opts RunOpts) (RunResult, error)
	Put(ctx context.Context, localPath, remotePath string, mode string) error
	Get(ctx context.Context, remotePath, localPath string) error
	Mkdir(ctx context.Context, remotePath string, mode string) error
	Stat(ctx context.Context, remotePath string) (FileInfo, error)
	Close() error
}

// HostConfig is the subset of a host's resolved variables a transport needs
// to open a connection (mirrors ansible_* variables resolved by pkg/inventory).
type HostConfig struct {
	Name              string
	Addr              string
	Port              int
	User              string
	Password          string
	KeyPath           string
	ConnectTimeout    time.Duration
	HostKeyPolicy     HostKeyPolicy
	KnownHostsPath    string
	UseAgent          bool
	AgentForwarding   bool
	ProxyCommand      string
	WinRMUseHTTPS     bool
	WinRMInsecure     bool
}

// HostKeyPolicy selects SSH host-key verification behavior.
type HostKeyPolicy int

const (
	HostKeyAcceptNew HostKeyPolicy = iota // default per §4.3
	HostKeyStrict
	HostKeyInsecure
)

// Dialer opens a Connection for a given host config and transport kind.
type Dialer func(cfg HostConfig) (Connection, error)
