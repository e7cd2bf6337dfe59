package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/umputun/fleetplay/pkg/transport"
)

// becomeConn decorates a Connection so every Run() call is transparently
// prefixed with the configured privilege-escalation command (§4.6
// "Become"). Uses a printf-pipe-into-stdin idiom for feeding a password
// without ever putting it on the command line, with a passwordless
// fallback, covering the su/runas methods as well as sudo via a connection
// decorator since the module layer, not the runner, issues the actual
// command string.
type becomeConn struct {
	transport.Connection
	method   string // "sudo", "su", or "runas"
	user     string
	password string
	windows  bool
}

// wrapBecome returns conn unchanged if enabled is false (the common case:
// become is never applied to local transport unless explicitly requested,
// which the caller enforces before calling this). Otherwise it returns a
// decorator that escalates every command run through it.
func wrapBecome(conn transport.Connection, enabled bool, method, user, password string, windows bool) transport.Connection {
	if !enabled {
		return conn
	}
	if method == "" {
		method = "sudo"
	}
	if user == "" {
		user = "root"
		if windows {
			user = "Administrator"
		}
	}
	return &becomeConn{Connection: conn, method: method, user: user, password: password, windows: windows}
}

func (b *becomeConn) Run(ctx context.Context, command string, opts transport.RunOpts) (transport.RunResult, error) {
	return b.Connection.Run(ctx, b.wrapCommand(command), opts)
}

// wrapCommand escalates a POSIX command string. Windows become is not
// wrapped here: WinRM sessions are escalated at the listener/credential
// level (CredSSP or an already-elevated service account), since `runas`
// has no clean non-interactive, password-piped equivalent for an
// arbitrary remote-shell command.
func (b *becomeConn) wrapCommand(command string) string {
	if b.windows {
		return command
	}

	switch b.method {
	case "su":
		inner := fmt.Sprintf("su - %s -c %s", shQuote(b.user), shQuote(command))
		if b.password == "" {
			return inner
		}
		return fmt.Sprintf("printf '%%s\\n' %s | %s", shQuote(b.password), inner)
	default: // sudo
		if b.password == "" {
			return fmt.Sprintf("sudo -n -u %s -H %s", shQuote(b.user), command)
		}
		escaped := strings.ReplaceAll(b.password, "'", `'\''`)
		return fmt.Sprintf("printf '%%s\\n' '%s' | sudo -S -u %s -H %s", escaped, shQuote(b.user), command)
	}
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
