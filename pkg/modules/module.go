// Package modules implements the module contract (§4.4): a registry of
// named, aliased actions that take a rendered argument map and a host
// context and return a TaskResult, with check-mode and diff-mode semantics.
package modules

import (
	"context"

	"github.com/umputun/fleetplay/pkg/transport"
)

// Args is a task's rendered argument map. Tasks written as a free-form
// string or a `key=value` short form are normalized into this shape before
// a module ever sees them (§4.4 "Argument normalization").
type Args map[string]any

func (a Args) str(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (a Args) boolDefault(key string, def bool) bool {
	v, ok := a[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Diff carries the before/after payload for file-editing modules when diff
// mode is in effect and a change would occur (§4.4 "Diff mode semantics").
type Diff struct {
	Before       string
	After        string
	BeforeHeader string
	AfterHeader  string
}

// Result is a module's outcome.
type Result struct {
	Changed bool
	Failed  bool
	Skipped bool
	Reason  string // why the module was skipped, when Skipped is true
	Msg     string
	Stdout  string
	Stderr  string
	RC      int
	Diff    *Diff
	Facts   map[string]any // additions to set_fact-equivalent state (e.g. `setup`, `stat`, `register`)
}

// Context is the per-invocation environment a module executes in: the
// open transport connection to the (possibly delegated) target, the
// playbook's base directory for relative paths, and the two execution-mode
// flags that change module behavior without changing its arguments.
type Context struct {
	Conn      transport.Connection
	BaseDir   string
	CheckMode bool
	DiffMode  bool
	HostName  string
}

// Module is a single action's implementation.
type Module interface {
	// Run executes the module. required/optional argument validation is the
	// module's own responsibility; the registry only handles name dispatch.
	Run(ctx context.Context, mctx *Context, args Args) (Result, error)
}

// ModuleError reports a registry dispatch failure: an unknown name, or a
// qualified namespace the core does not implement natively (§4.4
// "Qualification rules").
type ModuleError struct {
	Name string
	Msg  string
}

func (e *ModuleError) Error() string { return "module " + e.Name + ": " + e.Msg }
