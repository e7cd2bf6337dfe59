package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/fleetplay/pkg/modules"
	"github.com/umputun/fleetplay/pkg/playbook"
	"github.com/umputun/fleetplay/pkg/report"
	"github.com/umputun/fleetplay/pkg/template"
	"github.com/umputun/fleetplay/pkg/transport"
)

// newTestPlayExec builds a playExec wired with fake connections, one per
// host name, so task/block/handler logic can be exercised without a real
// inventory or transport.
func newTestPlayExec(t *testing.T, hostNames []string, conns map[string]*fakeConn) *playExec {
	t.Helper()
	runner := New(nil, modules.NewRegistry(), report.New(), Options{Forks: 4})
	play := &playbook.Play{Name: "test play"}
	pe := &playExec{runner: runner, play: play, playIdx: 0, engine: template.NewEngine(""), hosts: map[string]*HostContext{}}
	runner.Reporter.BeginPlay(play.Name, hostNames)

	for _, name := range hostNames {
		hc := newHostContext(testHost(name), map[string]any{}, nil, fakeDialer(conns[name]), transport.HostConfig{})
		hc.resetForPlay(nil)
		pe.hosts[name] = hc
		runner.hosts[name] = hc
	}
	return pe
}

func cmdTask(name, cmd string) playbook.Task {
	return playbook.Task{Name: name, Module: "command", Args: map[string]any{"cmd": cmd}}
}

// failingConn always fails, regardless of the command run.
func failingConn(rc int) *fakeConn {
	return &fakeConn{runFunc: func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
		return transport.RunResult{RC: rc}, nil
	}}
}

// failsOnlyOn fails a single named command and succeeds on everything else,
// so a rescue/cleanup step run on the same connection can be distinguished
// from the body step that triggered it.
func failsOnlyOn(failCmd string, rc int) *fakeConn {
	return &fakeConn{runFunc: func(ctx context.Context, cmd string, opts transport.RunOpts) (transport.RunResult, error) {
		if cmd == failCmd {
			return transport.RunResult{RC: rc}, nil
		}
		return transport.RunResult{RC: 0}, nil
	}}
}

func TestRunTaskList_SimpleTaskOKAndChangedNotify(t *testing.T) {
	conn := &fakeConn{}
	pe := newTestPlayExec(t, []string{"h1"}, map[string]*fakeConn{"h1": conn})
	pe.play.Handlers = []playbook.Task{{Name: "restart app", IsHandler: true, Module: "command", Args: map[string]any{"cmd": "systemctl restart app"}}}

	task := cmdTask("deploy", "deploy.sh")
	task.Notify = []string{"restart app"}

	active, err := pe.runTaskList(context.Background(), []playbook.Task{task}, []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, active)
	assert.True(t, pe.hosts["h1"].notifiedAt["restart app"])

	active, err = pe.flushHandlers(context.Background(), active)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, active)
	assert.Contains(t, conn.runLog, "systemctl restart app")
	assert.False(t, pe.hosts["h1"].notifiedAt["restart app"], "flush clears the notification")
}

// TestFlushHandlers_RunsInFirstNotifiedOrderNotDeclarationOrder exercises
// §4.6's "flush runs pending handlers in the order they were first
// notified": the handlers: block lists B before A, but the task list
// notifies A first, so A must still run first.
func TestFlushHandlers_RunsInFirstNotifiedOrderNotDeclarationOrder(t *testing.T) {
	conn := &fakeConn{}
	pe := newTestPlayExec(t, []string{"h1"}, map[string]*fakeConn{"h1": conn})
	pe.play.Handlers = []playbook.Task{
		{Name: "restart B", IsHandler: true, Module: "command", Args: map[string]any{"cmd": "restart-b"}},
		{Name: "restart A", IsHandler: true, Module: "command", Args: map[string]any{"cmd": "restart-a"}},
	}

	taskA := cmdTask("touch a", "touch-a")
	taskA.Notify = []string{"restart A"}
	taskB := cmdTask("touch b", "touch-b")
	taskB.Notify = []string{"restart B"}

	active, err := pe.runTaskList(context.Background(), []playbook.Task{taskA, taskB}, []string{"h1"})
	require.NoError(t, err)

	_, err = pe.flushHandlers(context.Background(), active)
	require.NoError(t, err)

	idxA := indexOf(conn.runLog, "restart-a")
	idxB := indexOf(conn.runLog, "restart-b")
	require.True(t, idxA >= 0 && idxB >= 0)
	assert.Less(t, idxA, idxB, "restart A was notified first and must run first, despite B being declared first")
}

func indexOf(haystack []string, needle string) int {
	for i, s := range haystack {
		if s == needle {
			return i
		}
	}
	return -1
}

func TestRunBlock_RescueRecoversFailedHost(t *testing.T) {
	failing := failsOnlyOn("deploy.sh", 1)
	ok := &fakeConn{}
	pe := newTestPlayExec(t, []string{"bad", "good"}, map[string]*fakeConn{"bad": failing, "good": ok})

	block := playbook.Task{
		Name:   "deploy with rescue",
		Block:  []playbook.Task{cmdTask("deploy", "deploy.sh")},
		Rescue: []playbook.Task{cmdTask("rollback", "rollback.sh")},
	}

	active, err := pe.runBlock(context.Background(), block, []string{"bad", "good"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bad", "good"}, active, "rescue recovers the failing host")
	assert.Contains(t, failing.runLog, "rollback.sh")
	assert.NotContains(t, ok.runLog, "rollback.sh", "rescue only runs on the host that actually failed")
}

func TestRunBlock_AlwaysRunsEvenOnFailedHost(t *testing.T) {
	failing := failingConn(1)
	pe := newTestPlayExec(t, []string{"bad"}, map[string]*fakeConn{"bad": failing})

	block := playbook.Task{
		Name:   "no rescue",
		Block:  []playbook.Task{cmdTask("deploy", "deploy.sh")},
		Always: []playbook.Task{cmdTask("cleanup", "cleanup.sh")},
	}

	active, err := pe.runBlock(context.Background(), block, []string{"bad"})
	require.NoError(t, err)
	assert.Empty(t, active, "host stays failed with no rescue to recover it")
	assert.Contains(t, failing.runLog, "cleanup.sh", "always runs regardless of prior failure")
}

func TestRunSingleTask_AnyErrorsFatalStopsPlay(t *testing.T) {
	failing := failingConn(1)
	pe := newTestPlayExec(t, []string{"bad"}, map[string]*fakeConn{"bad": failing})
	pe.play.AnyErrorsFatal = true

	_, err := pe.runSingleTask(context.Background(), cmdTask("deploy", "deploy.sh"), []string{"bad"})
	require.Error(t, err)
}

func TestRunSingleTask_IgnoreErrorsKeepsHostActive(t *testing.T) {
	failing := failingConn(1)
	pe := newTestPlayExec(t, []string{"bad"}, map[string]*fakeConn{"bad": failing})

	task := cmdTask("deploy", "deploy.sh")
	task.IgnoreErrors = true
	active, err := pe.runSingleTask(context.Background(), task, []string{"bad"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, active)
}

func TestRunSingleTask_LoopExpandsAndAggregatesChanged(t *testing.T) {
	conn := &fakeConn{}
	pe := newTestPlayExec(t, []string{"h1"}, map[string]*fakeConn{"h1": conn})

	task := playbook.Task{
		Name:     "install packages",
		Module:   "command",
		Args:     map[string]any{"cmd": "install {{ item }}"},
		Loop:     []any{"nginx", "curl"},
		Register: "install_result",
	}
	active, err := pe.runSingleTask(context.Background(), task, []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, active)
	assert.Equal(t, []string{"install nginx", "install curl"}, conn.runLog)

	result, ok := pe.hosts["h1"].Vars["install_result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["changed"])
	results, ok := result["results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 2)
}
