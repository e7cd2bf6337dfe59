package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/umputun/fleetplay/pkg/transport"
)

// winServiceModule controls a Windows service's run state via PowerShell's
// Get-Service/Start-Service/Stop-Service cmdlets. The check-then-act shape
// (query current state, act only on mismatch, report Changed accordingly)
// follows the same idiom as fileModule and copyModule above.
type winServiceModule struct{}

func (m *winServiceModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	name := args.str("name")
	if name == "" {
		return Result{}, fmt.Errorf("win_service requires name")
	}
	state := args.str("state")

	statusRes, err := mctx.Conn.Run(ctx,
		fmt.Sprintf("(Get-Service -Name %q).Status", name),
		transport.RunOpts{Shell: transport.ShellPowerShell})
	if err != nil {
		return Result{}, fmt.Errorf("can't query service %s: %w", name, err)
	}
	if statusRes.RC != 0 {
		return Result{Failed: true, Msg: fmt.Sprintf("service %s not found", name)}, nil
	}
	current := strings.TrimSpace(statusRes.Stdout)

	wantRunning := state == "started" || state == "running"
	wantStopped := state == "stopped"
	isRunning := strings.EqualFold(current, "Running")

	var action string
	switch {
	case wantRunning && !isRunning:
		action = fmt.Sprintf("Start-Service -Name %q", name)
	case wantStopped && isRunning:
		action = fmt.Sprintf("Stop-Service -Name %q -Force", name)
	case state == "restarted":
		action = fmt.Sprintf("Restart-Service -Name %q -Force", name)
	default:
		return Result{Changed: false, Msg: "service already in desired state"}, nil
	}

	if mctx.CheckMode {
		return Result{Changed: true, Skipped: true, Reason: "check mode: would run " + action}, nil
	}

	if _, err := mctx.Conn.Run(ctx, action, transport.RunOpts{Shell: transport.ShellPowerShell}); err != nil {
		return Result{}, fmt.Errorf("can't change state of service %s: %w", name, err)
	}
	return Result{Changed: true, Msg: fmt.Sprintf("service %s -> %s", name, state)}, nil
}
