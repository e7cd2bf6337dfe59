package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/umputun/fleetplay/pkg/inventory"
	"github.com/umputun/fleetplay/pkg/transport"
)

// HostState is a host's position in the per-play state machine (§4.6
// "Per-host state machine"). Transitions are driven entirely by the
// scheduler; HostContext itself never mutates its own state.
type HostState int

const (
	// StateReady means the host is eligible to run the next task.
	StateReady HostState = iota
	// StateRunning is set only for the duration of a single task dispatch.
	StateRunning
	// StateFailed means a module failed on this host without ignore_errors
	// and no rescue block has re-admitted it yet.
	StateFailed
	// StateUnreachable means the transport itself failed; permanent for
	// the rest of the play.
	StateUnreachable
	// StateCompleted is terminal bookkeeping once a play finishes for a host.
	StateCompleted
)

func (s HostState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateUnreachable:
		return "unreachable"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// HostContext is the per-play, per-host mutable state described by the
// spec's "HostContext" data-model entry: the effective variable mapping
// (inventory snapshot + play vars + extra-vars + runtime overlays),
// a lazily-dialed transport connection, current state, and the pending
// handler-notification queue. Owned exclusively by the goroutine running
// that host's work within a play (§5 "Shared-resource policy") — nothing
// else reads or writes it concurrently.
type HostContext struct {
	Name string
	Host *inventory.Host

	// Vars is the fully merged variable view handed to the template
	// engine, rebuilt by rebuildVars at the start of every play from (in
	// increasing priority) baseVars (tiers 1-5, fixed at inventory parse),
	// the current play's vars/vars_files (tier 6), extraVars (tier 7,
	// fixed for the whole run), and runtime (tier 8, set_fact/register/
	// include_vars, persists and grows across plays for this host).
	Vars map[string]any

	baseVars  map[string]any
	extraVars map[string]any
	runtime   map[string]any

	Conn  transport.Connection
	State HostState

	// notified preserves first-notify order and de-duplicates by handler
	// name, per §4.6 "Handler execution".
	notified   []string
	notifiedAt map[string]bool

	// rescueCandidate marks a host whose current block body task failed
	// and is awaiting that block's rescue list; scoped per-block by the
	// scheduler, which saves/restores it around nested blocks.
	rescueCandidate bool

	dialer transport.Dialer
	cfg    transport.HostConfig

	// mu serializes connect+Run against this host's connection. A host is
	// normally owned by exactly one goroutine per task, but delegate_to can
	// route two different source hosts at the same target concurrently
	// within the same task's fan-out, so the connection itself still needs
	// protecting.
	mu sync.Mutex
}

// newHostContext builds a HostContext with its tier 1-5 and tier 7
// variables fixed for the run; tier 6 is layered in per-play by
// rebuildVars, and tier 8 grows via SetFact/Register/IncludeVars.
func newHostContext(h *inventory.Host, baseVars map[string]any, extraVars map[string]any,
	dialer transport.Dialer, cfg transport.HostConfig) *HostContext {
	hc := &HostContext{
		Name:       h.Name,
		Host:       h,
		baseVars:   baseVars,
		extraVars:  extraVars,
		runtime:    map[string]any{},
		State:      StateReady,
		notifiedAt: map[string]bool{},
		dialer:     dialer,
		cfg:        cfg,
	}
	hc.rebuildVars(nil)
	return hc
}

// rebuildVars recomputes Vars from scratch in strict precedence order,
// called at the start of every play with that play's merged vars/
// vars_files (tier 6). Runtime facts accumulated on a previous play
// persist and are always re-applied last, so they keep outranking a new
// play's own vars, per §4.1's tier 8 being the highest.
func (hc *HostContext) rebuildVars(playVars map[string]any) {
	vars := make(map[string]any, len(hc.baseVars)+len(playVars)+len(hc.extraVars)+len(hc.runtime))
	for k, v := range hc.baseVars {
		vars[k] = v
	}
	for k, v := range playVars {
		vars[k] = v
	}
	for k, v := range hc.extraVars {
		vars[k] = v
	}
	for k, v := range hc.runtime {
		vars[k] = v
	}
	hc.Vars = vars
}

// SetFact implements set_fact/register: the written keys join tier 8 of
// the precedence table and are visible to every subsequent task on this
// host, per Open Question #2.
func (hc *HostContext) SetFact(facts map[string]any) {
	for k, v := range facts {
		hc.runtime[k] = v
		hc.Vars[k] = v
	}
}

// IncludeVars merges a vars-file document into the host's context exactly
// like SetFact; include_vars has no special precedence of its own (Open
// Question #2: it behaves as an ordinary runtime overlay, not scoped to
// the including task alone).
func (hc *HostContext) IncludeVars(vars map[string]any) { hc.SetFact(vars) }

// resetForPlay re-admits a host at the start of a new play: even a host
// that ended the previous play `unreachable` rejoins, per the data model's
// "it may rejoin on a subsequent play". The cached connection from a prior
// play is kept only if it is still open; an unreachable host had its
// connection discarded already, so it dials fresh.
func (hc *HostContext) resetForPlay(playVars map[string]any) {
	hc.State = StateReady
	hc.rescueCandidate = false
	hc.notified = nil
	hc.notifiedAt = map[string]bool{}
	hc.rebuildVars(playVars)
}

// Notify adds a handler name to the pending queue, preserving first-notify
// order and ignoring repeats.
func (hc *HostContext) Notify(name string) {
	if hc.notifiedAt[name] {
		return
	}
	hc.notifiedAt[name] = true
	hc.notified = append(hc.notified, name)
}

// PendingHandlers returns and clears the notification queue, in
// first-notify order, for a flush point.
func (hc *HostContext) PendingHandlers() []string {
	pending := hc.notified
	hc.notified = nil
	hc.notifiedAt = map[string]bool{}
	return pending
}

// connectRetryAttempts and connectRetryBase implement §4.6 "Retries":
// transport establishment gets a small bounded retry with exponential
// backoff and jitter; everything else (module failures) is not retried
// by the core.
const (
	connectRetryAttempts = 3
	connectRetryBase     = time.Second
)

// connect lazily dials the host's transport, retrying connection
// establishment only (never command execution) per §4.6 "Retries". The
// connection is cached on the HostContext for the remainder of the play.
func (hc *HostContext) connect(ctx context.Context) error {
	if hc.Conn != nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < connectRetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := connectRetryBase * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(backoff) / 4)) // nolint:gosec // jitter, not a secret
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		conn, err := hc.dialer(hc.cfg)
		if err != nil {
			lastErr = err
			continue
		}
		if err := conn.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		hc.Conn = conn
		return nil
	}
	return &transport.UnreachableError{Host: hc.Name, Err: lastErr}
}

// closeConn discards a cached connection, e.g. after it transitions to
// unreachable or at play end.
func (hc *HostContext) closeConn() {
	if hc.Conn == nil {
		return
	}
	_ = hc.Conn.Close()
	hc.Conn = nil
}
