package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH reuses a single client connection per host for the duration of a play,
// dialing and authenticating once and driving sftp for put/get/stat/mkdir.
type SSH struct {
	cfg    HostConfig
	client *ssh.Client
	sftp   *sftp.Client
}

func NewSSH(cfg HostConfig) (Connection, error) { return &SSH{cfg: cfg}, nil }

func (s *SSH) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil // idempotent
	}

	authMethods, err := s.authMethods()
	if err != nil {
		return &UnreachableError{Host: s.cfg.Name, Err: err}
	}

	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return &UnreachableError{Host: s.cfg.Name, Err: err}
	}

	timeout := s.cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	sshCfg := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	port := s.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(s.cfg.Addr, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("dial %s: %w", addr, err)}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		_ = conn.Close()
		return &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("ssh handshake with %s: %w", addr, err)}
	}

	s.client = ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		_ = s.client.Close()
		s.client = nil
		return &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("sftp subsystem on %s: %w", addr, err)}
	}
	s.sftp = sftpClient
	return nil
}

func (s *SSH) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if s.cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if s.cfg.KeyPath != "" {
		key, err := os.ReadFile(s.cfg.KeyPath) // nolint
		if err != nil {
			return nil, fmt.Errorf("can't read private key %s: %w", s.cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("can't parse private key %s: %w", s.cfg.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if s.cfg.Password != "" {
		methods = append(methods, ssh.Password(s.cfg.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method available (agent/key/password all unset)")
	}
	return methods, nil
}

func (s *SSH) hostKeyCallback() (ssh.HostKeyCallback, error) {
	switch s.cfg.HostKeyPolicy {
	case HostKeyInsecure:
		return ssh.InsecureIgnoreHostKey(), nil // nolint
	case HostKeyStrict:
		path := s.cfg.KnownHostsPath
		if path == "" {
			home, _ := os.UserHomeDir()
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		return knownhosts.New(path)
	default: // HostKeyAcceptNew
		path := s.cfg.KnownHostsPath
		if path == "" {
			home, _ := os.UserHomeDir()
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		strict, err := knownhosts.New(path)
		if err != nil {
			if os.IsNotExist(err) {
				return ssh.InsecureIgnoreHostKey(), nil // nolint
			}
			return nil, err
		}
		return acceptNewCallback(strict, path), nil
	}
}

// acceptNewCallback wraps a knownhosts callback so an unknown host is
// appended to the known_hosts file instead of rejected, matching the
// "accept-new" policy that Ansible itself defaults to.
func acceptNewCallback(strict ssh.HostKeyCallback, path string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := strict(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			line := knownhosts.Line([]string{hostname}, key)
			f, ferr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // nolint
			if ferr == nil {
				defer f.Close() // nolint
				_, _ = f.WriteString(line + "\n")
			}
			return nil
		}
		return err
	}
}

func (s *SSH) Run(ctx context.Context, command string, opts RunOpts) (RunResult, error) {
	if s.client == nil {
		return RunResult{}, &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("not connected")}
	}

	session, err := s.client.NewSession()
	if err != nil {
		return RunResult{}, &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("open session: %w", err)}
	}
	defer session.Close() // nolint

	if len(opts.Env) > 0 {
		for k, v := range opts.Env {
			_ = session.Setenv(k, v) // best-effort; many sshd configs reject SetEnv
		}
	}
	if opts.WorkDir != "" {
		command = fmt.Sprintf("cd %s && %s", shellQuote(opts.WorkDir), command)
	}
	if len(opts.Stdin) > 0 {
		session.Stdin = bytes.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout, session.Stderr = &stdout, &stderr

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return RunResult{}, &UnreachableError{Host: s.cfg.Name, Err: ctx.Err()}
	case err := <-runErr:
		if err == nil {
			return RunResult{RC: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return RunResult{RC: exitErr.ExitStatus(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		return RunResult{}, &UnreachableError{Host: s.cfg.Name, Err: err}
	}
}

func (s *SSH) Put(_ context.Context, localPath, remotePath string, mode string) error {
	if s.sftp == nil {
		return &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("not connected")}
	}
	if err := s.sftp.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir %s on %s: %w", filepath.Dir(remotePath), s.cfg.Name, err)
	}
	src, err := os.Open(localPath) // nolint
	if err != nil {
		return err
	}
	defer src.Close() // nolint

	dst, err := s.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s on %s: %w", remotePath, s.cfg.Name, err)
	}
	defer dst.Close() // nolint

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	if mode != "" {
		if v, perr := strconv.ParseUint(mode, 8, 32); perr == nil {
			_ = s.sftp.Chmod(remotePath, os.FileMode(v))
		}
	}
	return nil
}

func (s *SSH) Get(_ context.Context, remotePath, localPath string) error {
	if s.sftp == nil {
		return &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("not connected")}
	}
	src, err := s.sftp.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close() // nolint

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return err
	}
	dst, err := os.Create(localPath) // nolint
	if err != nil {
		return err
	}
	defer dst.Close() // nolint

	_, err = io.Copy(dst, src)
	return err
}

func (s *SSH) Mkdir(_ context.Context, remotePath string, mode string) error {
	if s.sftp == nil {
		return &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("not connected")}
	}
	if err := s.sftp.MkdirAll(remotePath); err != nil {
		return err
	}
	if mode != "" {
		if v, perr := strconv.ParseUint(mode, 8, 32); perr == nil {
			_ = s.sftp.Chmod(remotePath, os.FileMode(v))
		}
	}
	return nil
}

func (s *SSH) Stat(ctx context.Context, remotePath string) (FileInfo, error) {
	if s.sftp == nil {
		return FileInfo{}, &UnreachableError{Host: s.cfg.Name, Err: fmt.Errorf("not connected")}
	}
	info, err := s.sftp.Lstat(remotePath)
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
		if sum, err := s.remoteChecksum(ctx, remotePath); err == nil {
			fi.Checksum = sum
		}
	}
	return fi, nil
}

// remoteChecksum runs sha256sum on the remote host so copy's idempotence
// check (§8) compares a real remote content hash against the local one
// instead of an always-empty string.
func (s *SSH) remoteChecksum(ctx context.Context, remotePath string) (string, error) {
	res, err := s.Run(ctx, "sha256sum "+shellQuote(remotePath), RunOpts{Shell: ShellPOSIX})
	if err != nil {
		return "", err
	}
	if res.RC != 0 {
		return "", fmt.Errorf("sha256sum %s: exit %d", remotePath, res.RC)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("sha256sum %s: empty output", remotePath)
	}
	return fields[0], nil
}

func (s *SSH) Close() error {
	if s.sftp != nil {
		_ = s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
