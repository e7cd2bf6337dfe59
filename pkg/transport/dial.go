package transport

import "fmt"

// Dial opens a Connection for the named transport kind ("local", "ssh",
// "winrm"), matching the three transports §4.3 requires.
func Dial(kind string, cfg HostConfig) (Connection, error) {
	switch kind {
	case "", "ssh":
		return NewSSH(cfg)
	case "local":
		return NewLocal(cfg)
	case "winrm":
		return NewWinRM(cfg)
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
