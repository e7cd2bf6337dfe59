// Package report accumulates per-task, per-host outcomes (§4.7) and renders
// them as either a colorized human stream or a structured JSON document.
package report

import (
	"sync"

	"github.com/google/uuid"

	"github.com/umputun/fleetplay/pkg/modules"
)

// Status is a host's outcome for a single task.
type Status string

// The five statuses of §4.7 / the TaskResult data-model entry.
const (
	StatusOK          Status = "ok"
	StatusChanged     Status = "changed"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusUnreachable Status = "unreachable"
)

// HostResult is one host's outcome for one task.
type HostResult struct {
	Status  Status         `json:"status"`
	Changed bool           `json:"changed"`
	Msg     string         `json:"msg,omitempty"`
	Results any            `json:"results,omitempty"` // loop results list, when the task used `loop`
	Stdout  string         `json:"stdout,omitempty"`
	Stderr  string         `json:"stderr,omitempty"`
	RC      int            `json:"rc"`
	Diff    *modules.Diff  `json:"diff,omitempty"`
}

// TaskReport is one task's outcome across every targeted host.
type TaskReport struct {
	Index   int                   `json:"-"`
	Name    string                `json:"name"`
	Module  string                `json:"module"`
	PerHost map[string]HostResult `json:"per_host"`
}

// PlayReport is one play's outcome.
type PlayReport struct {
	Name  string       `json:"name"`
	Hosts []string     `json:"hosts"`
	Tasks []TaskReport `json:"tasks"`
}

// Stats is the per-host recap aggregate (§4.7 "recap table").
type Stats struct {
	OK          int `json:"ok"`
	Changed     int `json:"changed"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Unreachable int `json:"unreachable"`
}

// Document is the full structured-output shape described by §4.7.
type Document struct {
	RunID string           `json:"run_id"`
	Plays []PlayReport     `json:"plays"`
	Stats map[string]Stats `json:"stats"`
}

// Reporter is the single shared mutable sink every host worker writes
// results into (§5 "Shared-resource policy": "the reporter is the only
// shared mutable sink; it MUST be protected by a mutex"). Keyed internally
// by (task_index, host_name) so concurrent, out-of-order arrivals within a
// task never collide or get lost.
type Reporter struct {
	mu  sync.Mutex
	doc Document
}

// New creates an empty Reporter with a fresh run identifier.
func New() *Reporter {
	return &Reporter{
		doc: Document{RunID: uuid.NewString(), Stats: map[string]Stats{}},
	}
}

// BeginPlay declares a play and its targeted hosts, returning its index for
// use with Record. Must be called once per play, in play order, before any
// Record call against it.
func (r *Reporter) BeginPlay(name string, hosts []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Plays = append(r.doc.Plays, PlayReport{Name: name, Hosts: hosts})
	idx := len(r.doc.Plays) - 1
	return idx
}

// BeginTask declares a task within a play, returning its task index for use
// with Record.
func (r *Reporter) BeginTask(playIdx int, name, module string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	play := &r.doc.Plays[playIdx]
	play.Tasks = append(play.Tasks, TaskReport{Index: len(play.Tasks), Name: name, Module: module, PerHost: map[string]HostResult{}})
	return len(play.Tasks) - 1
}

// Record stores one host's outcome for (playIdx, taskIdx), keyed by
// (task_index, host_name) per §4.7, and folds it into the running per-host
// recap counters. Safe for concurrent use across a task's fanned-out hosts.
func (r *Reporter) Record(playIdx, taskIdx int, host string, res HostResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Plays[playIdx].Tasks[taskIdx].PerHost[host] = res

	st := r.doc.Stats[host]
	switch res.Status {
	case StatusOK:
		st.OK++
	case StatusChanged:
		st.Changed++
	case StatusFailed:
		st.Failed++
	case StatusSkipped:
		st.Skipped++
	case StatusUnreachable:
		st.Unreachable++
	}
	r.doc.Stats[host] = st
}

// Document returns a snapshot of the accumulated report. Safe to call while
// a run is still in progress (e.g. for a live recap), though the usual use
// is after the run completes.
func (r *Reporter) Document() Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// AnyFailed reports whether any host ended up failed or unreachable
// anywhere in the run, the condition that maps to exit code 2 (§6 "Exit
// codes").
func (r *Reporter) AnyFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.doc.Stats {
		if st.Failed > 0 || st.Unreachable > 0 {
			return true
		}
	}
	return false
}
