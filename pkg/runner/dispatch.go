package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-pkgz/syncs"

	"github.com/umputun/fleetplay/pkg/modules"
	"github.com/umputun/fleetplay/pkg/playbook"
	"github.com/umputun/fleetplay/pkg/report"
	"github.com/umputun/fleetplay/pkg/template"
	"github.com/umputun/fleetplay/pkg/transport"
)

// runSingleTask fans a single task out across active hosts with bounded
// concurrency (§5 "Concurrency model") via the syncs.NewErrSizedGroup +
// wg.Go idiom, one task per host. Host-level failures never fail the group
// itself; only any_errors_fatal turns a failure into a play-stopping error,
// and only after every host in this fan-out has finished.
func (pe *playExec) runSingleTask(ctx context.Context, t playbook.Task, active []string) ([]string, error) {
	taskIdx := pe.runner.Reporter.BeginTask(pe.playIdx, t.Name, t.Module)

	type outcome struct {
		host   string
		result report.HostResult
		state  HostState
	}
	outcomes := make([]outcome, len(active))

	wg := syncs.NewErrSizedGroup(pe.runner.Opts.Forks, syncs.Context(ctx), syncs.Preemptive)
	for i, name := range active {
		i, name := i, name
		wg.Go(func() error {
			res, state := pe.runTaskOnHost(ctx, t, name)
			outcomes[i] = outcome{host: name, result: res, state: state}
			return nil
		})
	}
	_ = wg.Wait()

	var nextActive []string
	anyFatal := false
	for _, o := range outcomes {
		pe.runner.Reporter.Record(pe.playIdx, taskIdx, o.host, o.result)
		hc := pe.hosts[o.host]
		hc.State = o.state
		switch o.state {
		case StateUnreachable:
			hc.closeConn()
		case StateFailed:
			if pe.play.AnyErrorsFatal {
				anyFatal = true
			}
		default:
			nextActive = append(nextActive, o.host)
		}
	}
	if anyFatal {
		return nil, fmt.Errorf("play %q: any_errors_fatal triggered by task %q", pe.play.Name, t.Name)
	}
	return nextActive, nil
}

// runTaskOnHost dispatches to the looped or single-shot path. A looped
// task's `when` is bound per iteration (the loop var isn't defined yet at
// task scope), so evaluation is deferred to runLooped; a non-looped task's
// `when` is evaluated once here, before the module ever runs.
func (pe *playExec) runTaskOnHost(ctx context.Context, t playbook.Task, hostName string) (report.HostResult, HostState) {
	hc := pe.hosts[hostName]
	hc.State = StateRunning

	if t.Loop != nil {
		return pe.runLooped(ctx, t, hc)
	}

	taskVars := mergeVars(hc.Vars, t.Vars)
	ok, err := pe.engine.EvaluateWhen(t.When, taskVars)
	if err != nil {
		return pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Msg: "when: " + err.Error()})
	}
	if !ok {
		return report.HostResult{Status: report.StatusSkipped, Msg: "condition evaluated false"}, StateReady
	}
	return pe.runOnce(ctx, t, hc, nil)
}

// runOnce runs a non-looped (or single loop-iteration) invocation of t on
// hc, optionally with extra per-iteration vars (the loop_control.loop_var
// binding) layered on top.
func (pe *playExec) runOnce(ctx context.Context, t playbook.Task, hc *HostContext, iterVars map[string]any) (report.HostResult, HostState) {
	vars := mergeVars(mergeVars(hc.Vars, t.Vars), iterVars)

	renderedAny, err := pe.engine.RenderStructure(map[string]any(t.Args), template.Vars(vars))
	if err != nil {
		return pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Msg: "template error: " + err.Error()})
	}
	renderedArgs, _ := renderedAny.(map[string]any)

	mod, err := pe.runner.Registry.Resolve(t.Module)
	if err != nil {
		return pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Msg: err.Error()})
	}

	targetHC := hc
	if t.DelegateTo != "" {
		targetHC = pe.runner.hostFor(t.DelegateTo)
	}

	checkMode, diffMode := pe.effectiveModes(t)
	becomeOn, becomeMethod, becomeUser := pe.effectiveBecome(t, targetHC)
	becomePassword, _ := vars["ansible_become_pass"].(string)
	if becomePassword == "" {
		becomePassword = pe.runner.Opts.BecomePassword
	}

	targetHC.mu.Lock()
	connErr := targetHC.connect(pe.workCtx)
	if connErr != nil {
		targetHC.mu.Unlock()
		return pe.connectionFailure(t, hc, targetHC, connErr)
	}
	conn := wrapBecome(targetHC.Conn, becomeOn, becomeMethod, becomeUser, becomePassword, targetHC.Host.Transport == "winrm")
	mctx := &modules.Context{Conn: conn, BaseDir: pe.baseDir, CheckMode: checkMode, DiffMode: diffMode, HostName: targetHC.Name}
	res, runErr := mod.Run(pe.workCtx, mctx, modules.Args(renderedArgs))
	targetHC.mu.Unlock()

	if runErr != nil {
		var unreachable *transport.UnreachableError
		if errors.As(runErr, &unreachable) {
			return pe.connectionFailure(t, hc, targetHC, runErr)
		}
		return pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Msg: runErr.Error()})
	}

	changed, failed := res.Changed, res.Failed
	if t.ChangedWhen != nil {
		if cv, err := pe.engine.EvaluateWhen(t.ChangedWhen, withResult(vars, res, changed, failed)); err == nil {
			changed = cv
		}
	}
	if t.FailedWhen != nil {
		if fv, err := pe.engine.EvaluateWhen(t.FailedWhen, withResult(vars, res, changed, failed)); err == nil {
			failed = fv
		}
	}

	if len(res.Facts) > 0 {
		hc.SetFact(res.Facts)
	}
	if t.Register != "" {
		hc.SetFact(map[string]any{t.Register: registerMap(res, changed, failed)})
	}

	switch {
	case res.Skipped:
		return report.HostResult{Status: report.StatusSkipped, Msg: res.Reason, Stdout: res.Stdout, Stderr: res.Stderr, RC: res.RC}, StateReady
	case failed:
		return pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Changed: changed, Msg: res.Msg, Stdout: res.Stdout, Stderr: res.Stderr, RC: res.RC, Diff: res.Diff})
	case changed:
		for _, n := range t.Notify {
			hc.Notify(n)
			pe.recordNotify(n)
		}
		return report.HostResult{Status: report.StatusChanged, Changed: true, Msg: res.Msg, Stdout: res.Stdout, Stderr: res.Stderr, RC: res.RC, Diff: res.Diff}, StateReady
	default:
		return report.HostResult{Status: report.StatusOK, Msg: res.Msg, Stdout: res.Stdout, Stderr: res.Stderr, RC: res.RC, Diff: res.Diff}, StateReady
	}
}

// connectionFailure classifies an unreachable transport. When the task
// delegated elsewhere, the *originating* host hc is not itself unreachable
// -- only the delegate target is -- so the task just fails (subject to
// ignore_errors) rather than taking hc out of the play.
func (pe *playExec) connectionFailure(t playbook.Task, hc, targetHC *HostContext, err error) (report.HostResult, HostState) {
	if t.DelegateTo == "" {
		hc.closeConn()
		return report.HostResult{Status: report.StatusUnreachable, Msg: err.Error()}, StateUnreachable
	}
	return pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Msg: "delegate host " + targetHC.Name + " unreachable: " + err.Error()})
}

// runLooped expands a task's `loop` and runs one iteration per item,
// aggregating into a single report.HostResult and a `results` list under
// Register (§4.6 "Loop expansion").
func (pe *playExec) runLooped(ctx context.Context, t playbook.Task, hc *HostContext) (report.HostResult, HostState) {
	vars := mergeVars(hc.Vars, t.Vars)
	items, err := resolveLoopItems(pe.engine, t.Loop, template.Vars(vars))
	if err != nil {
		return pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Msg: "loop error: " + err.Error()})
	}
	if len(items) == 0 {
		return report.HostResult{Status: report.StatusSkipped, Msg: "empty loop"}, StateReady
	}

	loopVar := t.LoopControl.LoopVar
	if loopVar == "" {
		loopVar = "item"
	}

	singleTask := t
	singleTask.Loop = nil

	var results []any
	anyChanged, anyFailed := false, false
	state := StateReady
	var lastMsg string

	for _, item := range items {
		iterVars := map[string]any{loopVar: item}

		whenOK, whenErr := pe.engine.EvaluateWhen(t.When, mergeVars(vars, iterVars))
		if whenErr != nil {
			res, st := pe.withIgnore(t, report.HostResult{Status: report.StatusFailed, Msg: "when: " + whenErr.Error()})
			results = append(results, iterationMap(res))
			anyFailed = true
			lastMsg = res.Msg
			if st == StateFailed {
				state = StateFailed
				break
			}
			continue
		}
		if !whenOK {
			results = append(results, iterationMap(report.HostResult{Status: report.StatusSkipped, Msg: "condition evaluated false"}))
			continue
		}

		res, st := pe.runOnce(ctx, singleTask, hc, iterVars)
		results = append(results, iterationMap(res))
		if res.Status == report.StatusChanged {
			anyChanged = true
		}
		if res.Status == report.StatusFailed {
			anyFailed = true
			lastMsg = res.Msg
		}
		if st == StateUnreachable {
			state = StateUnreachable
			lastMsg = res.Msg
			break
		}
		if st == StateFailed {
			state = StateFailed
			break
		}
	}

	if t.Register != "" {
		hc.SetFact(map[string]any{t.Register: map[string]any{"results": results, "changed": anyChanged, "failed": anyFailed}})
	}

	switch state {
	case StateUnreachable:
		return report.HostResult{Status: report.StatusUnreachable, Msg: lastMsg, Results: results}, StateUnreachable
	case StateFailed:
		return report.HostResult{Status: report.StatusFailed, Msg: lastMsg, Results: results}, StateFailed
	}
	if anyChanged {
		for _, n := range t.Notify {
			hc.Notify(n)
			pe.recordNotify(n)
		}
		return report.HostResult{Status: report.StatusChanged, Changed: true, Results: results}, StateReady
	}
	if anyFailed {
		// every failed iteration had ignore_errors (otherwise the loop above
		// would have broken with StateFailed), so the task as a whole stays ready
		return report.HostResult{Status: report.StatusFailed, Msg: lastMsg, Results: results}, StateReady
	}
	return report.HostResult{Status: report.StatusOK, Results: results}, StateReady
}

func (pe *playExec) withIgnore(t playbook.Task, hr report.HostResult) (report.HostResult, HostState) {
	if t.IgnoreErrors {
		return hr, StateReady
	}
	return hr, StateFailed
}

func (pe *playExec) effectiveModes(t playbook.Task) (checkMode, diffMode bool) {
	checkMode = pe.runner.Opts.CheckMode || pe.play.CheckMode
	if t.CheckMode != nil {
		checkMode = *t.CheckMode
	}
	diffMode = pe.runner.Opts.DiffMode || pe.play.Diff
	if t.Diff != nil {
		diffMode = *t.Diff
	}
	return checkMode, diffMode
}

// effectiveBecome resolves become/become_user/become_method with task-level
// BecomeSpec overriding the play's defaults. Become is never applied to
// local transport unless the task itself explicitly turns it on: a play-wide
// `become: true` has no effect when running against the local connection,
// since escalating the operator's own shell is almost never what "become"
// means for a localhost task.
func (pe *playExec) effectiveBecome(t playbook.Task, hc *HostContext) (enabled bool, method, user string) {
	enabled = pe.play.Become
	method = pe.play.BecomeMethod
	user = pe.play.BecomeUser
	explicit := false
	if t.Become != nil {
		enabled = t.Become.Enabled
		explicit = true
		if t.Become.Method != "" {
			method = t.Become.Method
		}
		if t.Become.User != "" {
			user = t.Become.User
		}
	}
	if hc.Host.Transport == "local" && !explicit {
		enabled = false
	}
	return enabled, method, user
}

func mergeVars(base, overlay map[string]any) map[string]any {
	if len(overlay) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func registerMap(res modules.Result, changed, failed bool) map[string]any {
	return map[string]any{
		"changed": changed,
		"failed":  failed,
		"skipped": res.Skipped,
		"msg":     res.Msg,
		"stdout":  res.Stdout,
		"stderr":  res.Stderr,
		"rc":      res.RC,
	}
}

func iterationMap(res report.HostResult) map[string]any {
	return map[string]any{
		"status":  string(res.Status),
		"changed": res.Status == report.StatusChanged,
		"failed":  res.Status == report.StatusFailed,
		"msg":     res.Msg,
		"stdout":  res.Stdout,
		"stderr":  res.Stderr,
		"rc":      res.RC,
	}
}

// withResult layers a synthetic "result" var over vars for changed_when/
// failed_when evaluation, the same shape a plain `register` would produce.
func withResult(vars map[string]any, res modules.Result, changed, failed bool) map[string]any {
	return mergeVars(vars, map[string]any{"result": registerMap(res, changed, failed)})
}
