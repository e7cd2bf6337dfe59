package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/umputun/fleetplay/pkg/inventory"
	"github.com/umputun/fleetplay/pkg/modules"
	"github.com/umputun/fleetplay/pkg/playbook"
	"github.com/umputun/fleetplay/pkg/report"
	"github.com/umputun/fleetplay/pkg/template"
	"github.com/umputun/fleetplay/pkg/transport"
)

// maxOpenConnections is the default cap on simultaneously open transport
// connections a single play may hold, per §5 "Connection lifecycle".
const maxOpenConnections = 256

// Options configures a Runner for one playbook-run invocation.
type Options struct {
	Forks          int
	CheckMode      bool
	DiffMode       bool
	ExtraVars      map[string]any
	Tags           []string
	SkipTags       []string
	ForceHandlers  bool
	ConnectTimeout time.Duration
	BaseDir        string
	RolesDir       string
	BecomePassword string
	MaxOpenConns   int
}

// Runner executes a parsed playbook.Document against an inventory using the
// linear strategy (§4.6): plays run in order, each play's tasks run in
// order across its hosts with bounded fan-out, hosts that fail drop out of
// later tasks in the play (subject to rescue/always/ignore_errors).
type Runner struct {
	Inv      *inventory.Inventory
	Registry *modules.Registry
	Reporter *report.Reporter
	Opts     Options

	// WorkCtx governs in-flight transport calls (connect/run) separately
	// from the ctx passed to RunDocument. RunDocument's ctx controls
	// whether new tasks get scheduled (cancel it and fan-out stops
	// admitting new per-host goroutines immediately); WorkCtx controls
	// whether already-dispatched transport calls get aborted. Splitting
	// the two lets a caller honor §5's graceful-shutdown grace period:
	// cancel the scheduling ctx right away, but only cancel WorkCtx once
	// the grace window elapses. Defaults to context.Background() so a
	// caller that doesn't care about staged shutdown can ignore this.
	WorkCtx context.Context

	hosts map[string]*HostContext
}

// New builds a Runner. Forks defaults to 5 when Opts.Forks <= 0.
func New(inv *inventory.Inventory, reg *modules.Registry, rep *report.Reporter, opts Options) *Runner {
	if opts.Forks <= 0 {
		opts.Forks = 5
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = maxOpenConnections
	}
	return &Runner{Inv: inv, Registry: reg, Reporter: rep, Opts: opts, hosts: map[string]*HostContext{}, WorkCtx: context.Background()}
}

// RunDocument runs every play in order, stopping at the first play-level
// error (any_errors_fatal, or a templating/inventory error that can't be
// attributed to a single host). Connections are cached per host across
// plays (§5 "Connection lifecycle": a play that targets a host already
// connected from an earlier play reuses it rather than redialing) and are
// only closed here, once the whole document has run.
func (r *Runner) RunDocument(ctx context.Context, doc *playbook.Document) error {
	defer r.closeAllConnections()
	for i := range doc.Plays {
		if err := r.runPlay(ctx, i, &doc.Plays[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) closeAllConnections() {
	for _, hc := range r.hosts {
		hc.closeConn()
	}
}

// playExec carries the state shared by every method handling one play's
// execution; it exists so runTaskList/runBlock/runSingleTask don't each need
// a dozen parameters.
type playExec struct {
	runner   *Runner
	play     *playbook.Play
	playIdx  int
	engine   *template.Engine
	hosts    map[string]*HostContext
	baseDir  string
	rolesDir string
	workCtx  context.Context

	// notifyOrderMu guards notifyOrder/notifySeen against concurrent Notify
	// calls from different hosts' goroutines within one task's fan-out.
	notifyOrderMu sync.Mutex
	notifyOrder   []string
	notifySeen    map[string]bool
}

// recordNotify appends name to this play's first-notified order the first
// time any host notifies it. Because runTaskList dispatches one task at a
// time across every active host (runSingleTask is a barrier), no two tasks'
// notifications ever race with each other, so this order is well defined
// and flushHandlers (§4.6 "Handler execution") uses it instead of the
// handlers: block's own declaration order.
func (pe *playExec) recordNotify(name string) {
	pe.notifyOrderMu.Lock()
	defer pe.notifyOrderMu.Unlock()
	if pe.notifySeen == nil {
		pe.notifySeen = map[string]bool{}
	}
	if pe.notifySeen[name] {
		return
	}
	pe.notifySeen[name] = true
	pe.notifyOrder = append(pe.notifyOrder, name)
}

func (r *Runner) runPlay(ctx context.Context, playIdx int, play *playbook.Play) error {
	hostNames := r.Inv.Select(play.Hosts)
	if len(hostNames) == 0 {
		log.Printf("[WARN] play %q: selector %q matched no hosts", play.Name, play.Hosts)
		r.Reporter.BeginPlay(play.Name, nil)
		return nil
	}
	if len(hostNames) > r.Opts.MaxOpenConns {
		return fmt.Errorf("play %q: selector %q matches %d hosts, exceeding the %d open-connection limit",
			play.Name, play.Hosts, len(hostNames), r.Opts.MaxOpenConns)
	}

	playVars, err := r.resolvePlayVars(play)
	if err != nil {
		return fmt.Errorf("play %q: %w", play.Name, err)
	}

	engine := template.NewEngine(r.Opts.BaseDir)
	workCtx := r.WorkCtx
	if workCtx == nil {
		workCtx = context.Background()
	}
	pe := &playExec{runner: r, play: play, playIdx: playIdx, engine: engine, hosts: map[string]*HostContext{},
		baseDir: r.Opts.BaseDir, rolesDir: r.Opts.RolesDir, workCtx: workCtx}

	active := make([]string, 0, len(hostNames))
	for _, name := range hostNames {
		hc := r.hostFor(name)
		hc.resetForPlay(playVars)
		pe.hosts[name] = hc
		active = append(active, name)
	}

	r.Reporter.BeginPlay(play.Name, hostNames)

	if play.GatherFacts {
		active = pe.gatherFacts(ctx, active)
	}

	active, err = pe.runTaskList(ctx, play.PreTasks, active)
	if err != nil {
		return err
	}
	active, err = pe.flushHandlers(ctx, active)
	if err != nil {
		return err
	}

	active, err = pe.runTaskList(ctx, play.Tasks, active)
	if err != nil {
		return err
	}
	active, err = pe.flushHandlers(ctx, active)
	if err != nil {
		return err
	}

	active, err = pe.runTaskList(ctx, play.PostTasks, active)
	if err != nil {
		return err
	}
	_, err = pe.flushHandlers(ctx, active)
	return err
}

// hostFor lazily creates (or returns the cached) HostContext for a host
// name, persisting it across plays in the Runner for connection reuse per
// §5 "Connection lifecycle" and Open Question #3 (delegate_to reuse).
func (r *Runner) hostFor(name string) *HostContext {
	if hc, ok := r.hosts[name]; ok {
		return hc
	}
	h := r.Inv.Hosts[name]
	base := stringsToAny(r.Inv.HostVars(name, nil, nil))
	cfg := r.hostConfig(h)
	hc := newHostContext(h, base, r.Opts.ExtraVars, dialerFor(h.Transport), cfg)
	r.hosts[name] = hc
	return hc
}

func (r *Runner) hostConfig(h *inventory.Host) transport.HostConfig {
	addr := h.Addr
	if addr == "" {
		addr = h.Name
	}
	timeout := r.Opts.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return transport.HostConfig{
		Name:           h.Name,
		Addr:           addr,
		Port:           h.Port,
		User:           h.User,
		Password:       h.Password,
		KeyPath:        h.KeyPath,
		ConnectTimeout: timeout,
		HostKeyPolicy:  transport.HostKeyAcceptNew,
	}
}

func dialerFor(kind string) transport.Dialer {
	switch kind {
	case "winrm":
		return transport.NewWinRM
	case "ssh":
		return transport.NewSSH
	default:
		return transport.NewLocal
	}
}

func stringsToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// resolvePlayVars computes tier 6 (play vars + vars_files, in declaration
// order, vars_files losing to a same-named inline `vars` entry since it is
// layered in after).
func (r *Runner) resolvePlayVars(play *playbook.Play) (map[string]any, error) {
	out := map[string]any{}
	for _, file := range play.VarsFiles {
		loaded, err := playbook.LoadVarsFile(resolvePath(r.Opts.BaseDir, file))
		if err != nil {
			return nil, err
		}
		for k, v := range loaded {
			out[k] = v
		}
	}
	for k, v := range play.Vars {
		out[k] = v
	}
	return out, nil
}

// gatherFacts dispatches the `setup` module on every active host and merges
// its nested `ansible_facts` key into that host's runtime vars.
func (pe *playExec) gatherFacts(ctx context.Context, active []string) []string {
	task := playbook.Task{Name: "Gathering Facts", Module: "setup", Args: map[string]any{}}
	next, err := pe.runSingleTask(ctx, task, active)
	if err != nil {
		log.Printf("[WARN] gather facts: %v", err)
		return active
	}
	return next
}
