package runner

import (
	"context"

	"github.com/go-pkgz/stringutils"

	"github.com/umputun/fleetplay/pkg/playbook"
)

// runTaskList executes tasks in order against activeIn, threading the
// shrinking active set through each entry: a block, a dynamic include, or a
// single task. Returns the hosts still eligible to run the next task list
// (pre_tasks -> tasks -> post_tasks, or a block's own body/rescue/always).
func (pe *playExec) runTaskList(ctx context.Context, tasks []playbook.Task, activeIn []string) ([]string, error) {
	active := append([]string{}, activeIn...)

	for i := 0; i < len(tasks); i++ {
		if ctx.Err() != nil {
			return active, ctx.Err()
		}
		t := tasks[i]

		if t.Module == "meta" && asBoolArg(t.Args, "flush_handlers") {
			var err error
			active, err = pe.flushHandlers(ctx, active)
			if err != nil {
				return nil, err
			}
			continue
		}

		if t.IncludeTasks != "" || t.IncludeRole != nil {
			expanded, err := pe.expandDynamic(t, active)
			if err != nil {
				return nil, err
			}
			rest := append([]playbook.Task{}, tasks[i+1:]...)
			tasks = append(append(append([]playbook.Task{}, tasks[:i]...), expanded...), rest...)
			i--
			continue
		}

		if t.IsBlock() {
			if !pe.tagSelected(t.Tags) {
				continue
			}
			var err error
			active, err = pe.runBlock(ctx, t, active)
			if err != nil {
				return nil, err
			}
			continue
		}

		if !pe.tagSelected(t.Tags) {
			continue
		}

		if len(active) == 0 {
			continue
		}

		nextActive, err := pe.runSingleTask(ctx, t, active)
		if err != nil {
			return nil, err
		}
		active = nextActive
	}
	return active, nil
}

// expandDynamic resolves an include_tasks/include_role directive once per
// task list entry (not once per host): the `when` guarding the include
// itself is evaluated against the first active host's vars, a documented
// simplification since an include's own path never varies per host in
// practice. Each returned task's own `when` is still evaluated per host when
// it executes.
func (pe *playExec) expandDynamic(t playbook.Task, active []string) ([]playbook.Task, error) {
	if len(active) > 0 {
		ok, err := pe.engine.EvaluateWhen(t.When, pe.hosts[active[0]].Vars)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
	return playbook.ExpandDynamic(&t, pe.baseDir, pe.rolesDir)
}

// runBlock implements the block/rescue/always algorithm of §4.6:
//  1. the body runs on active hosts; a host that fails there stops running
//     further body tasks.
//  2. if a rescue list exists, the failed hosts are re-admitted and the
//     rescue list runs on them; a host the rescue list completes without
//     failure is considered recovered.
//  3. always runs on every host that entered the block, regardless of
//     current state, including hosts already failed.
//  4. the block's own failed set is the union of (body failures not
//     recovered by rescue) and (always failures).
func (pe *playExec) runBlock(ctx context.Context, t playbook.Task, active []string) ([]string, error) {
	bodyActive, err := pe.runTaskList(ctx, t.Block, active)
	if err != nil {
		return nil, err
	}
	bodyFailed := diffHosts(active, bodyActive)

	stillFailed := bodyFailed
	if len(bodyFailed) > 0 && len(t.Rescue) > 0 {
		candidates := pe.excludeUnreachable(bodyFailed)
		for _, h := range candidates {
			pe.hosts[h].State = StateReady
			pe.hosts[h].rescueCandidate = true
		}
		rescueActive, err := pe.runTaskList(ctx, t.Rescue, candidates)
		if err != nil {
			return nil, err
		}
		recovered := toSet(rescueActive)
		stillFailed = nil
		for _, h := range bodyFailed {
			if pe.hosts[h].State == StateUnreachable || !recovered[h] {
				stillFailed = append(stillFailed, h)
			}
			pe.hosts[h].rescueCandidate = false
		}
	}

	alwaysInput := pe.excludeUnreachable(active)
	for _, h := range alwaysInput {
		pe.hosts[h].State = StateReady
	}
	alwaysActive, err := pe.runTaskList(ctx, t.Always, alwaysInput)
	if err != nil {
		return nil, err
	}
	alwaysFailed := diffHosts(alwaysInput, alwaysActive)

	failed := toSet(stillFailed)
	for _, h := range alwaysFailed {
		failed[h] = true
	}

	var out []string
	for _, h := range active {
		if pe.hosts[h].State == StateUnreachable {
			continue
		}
		if failed[h] {
			pe.hosts[h].State = StateFailed
			continue
		}
		pe.hosts[h].State = StateReady
		out = append(out, h)
	}
	return out, nil
}

// flushHandlers runs each of the play's handlers, in the order they were
// first notified (§4.6 "Handler execution"), on whichever currently-active
// hosts notified it (by exact name or a listen tag). A host that fails a
// handler is marked failed and excluded from the returned active set and
// from any remaining handlers in this flush, unless --force-handlers keeps
// it running the remaining handlers (it is still excluded from the
// returned active set either way).
func (pe *playExec) flushHandlers(ctx context.Context, active []string) ([]string, error) {
	handlerActive := append([]string{}, active...)
	failed := map[string]bool{}

	for _, h := range pe.orderedHandlers() {
		var runHosts []string
		for _, name := range handlerActive {
			hc := pe.hosts[name]
			if hc.notifiedAt[h.Name] || listenMatches(hc, h.ListenTags) {
				runHosts = append(runHosts, name)
			}
		}
		if len(runHosts) == 0 {
			continue
		}

		stillActive, err := pe.runTaskList(ctx, []playbook.Task{h}, runHosts)
		if err != nil {
			return nil, err
		}
		stillActiveSet := toSet(stillActive)

		var nextHandlerActive []string
		runSet := toSet(runHosts)
		for _, name := range handlerActive {
			if !runSet[name] {
				nextHandlerActive = append(nextHandlerActive, name)
				continue
			}
			if stillActiveSet[name] {
				nextHandlerActive = append(nextHandlerActive, name)
				continue
			}
			failed[name] = true
			if pe.runner.Opts.ForceHandlers {
				pe.hosts[name].State = StateReady
				nextHandlerActive = append(nextHandlerActive, name)
			}
		}
		handlerActive = nextHandlerActive

		for _, name := range runHosts {
			hc := pe.hosts[name]
			delete(hc.notifiedAt, h.Name)
			for _, tag := range h.ListenTags {
				delete(hc.notifiedAt, tag)
			}
		}
	}

	var out []string
	for _, h := range active {
		if failed[h] {
			pe.hosts[h].State = StateFailed
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// orderedHandlers reorders the play's handlers to match pe.notifyOrder, the
// sequence in which their triggering name or listen tag was first notified,
// falling back to handlers: declaration order for any handler nobody ever
// notified (it won't have any host in its run set anyway, so its position
// doesn't affect what actually executes).
func (pe *playExec) orderedHandlers() []playbook.Task {
	placed := make([]bool, len(pe.play.Handlers))
	out := make([]playbook.Task, 0, len(pe.play.Handlers))

	for _, trigger := range pe.notifyOrder {
		for i, h := range pe.play.Handlers {
			if placed[i] {
				continue
			}
			if h.Name == trigger || stringutils.Contains(trigger, h.ListenTags) {
				placed[i] = true
				out = append(out, h)
			}
		}
	}
	for i, h := range pe.play.Handlers {
		if !placed[i] {
			out = append(out, h)
		}
	}
	return out
}

func listenMatches(hc *HostContext, tags []string) bool {
	for _, t := range tags {
		if hc.notifiedAt[t] {
			return true
		}
	}
	return false
}

func (pe *playExec) excludeUnreachable(hosts []string) []string {
	var out []string
	for _, h := range hosts {
		if pe.hosts[h].State != StateUnreachable {
			out = append(out, h)
		}
	}
	return out
}

func diffHosts(a, b []string) []string {
	inB := toSet(b)
	var out []string
	for _, h := range a {
		if !inB[h] {
			out = append(out, h)
		}
	}
	return out
}

func toSet(hosts []string) map[string]bool {
	out := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		out[h] = true
	}
	return out
}

// tagSelected applies the run's --tags/--skip-tags filters (§6 "CLI
// surface"). skip_tags wins outright; an empty Tags filter means "run
// everything not explicitly skipped"; a non-empty one requires at least one
// matching tag. A task with no tags of its own always runs under skip_tags
// but is excluded by a non-empty --tags filter, matching Ansible's own
// "untagged tasks aren't selected by an explicit tag filter" behavior.
func (pe *playExec) tagSelected(taskTags []string) bool {
	for _, skip := range pe.runner.Opts.SkipTags {
		if stringutils.Contains(skip, taskTags) {
			return false
		}
	}
	if len(pe.runner.Opts.Tags) == 0 {
		return true
	}
	for _, want := range pe.runner.Opts.Tags {
		if stringutils.Contains(want, taskTags) {
			return true
		}
	}
	return false
}

func asBoolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
