// Package inventory parses hosts, groups and variables from the two supported
// inventory formats and resolves the per-host variable snapshot used by the runner.
package inventory

import (
	"sort"
	"strconv"
)

// Host is a single inventory target: identity, addressing, transport
// selector and its own variables. Hosts are immutable after parse; the
// runner layers additional per-host variables (set_fact, register) on top
// in its own HostContext.
type Host struct {
	Name      string            // stable, unique name within the inventory
	Addr      string            // ansible_host override, falls back to Name
	Port      int               // ansible_port, 0 means "use transport default"
	Transport string            // "local", "ssh" or "winrm"
	User      string            // ansible_user
	Password  string            // ansible_password / ansible_ssh_pass
	KeyPath   string            // ansible_ssh_private_key_file
	Shell     string            // ansible_shell_type
	Vars      map[string]string // host-scoped variables (ansible_* and user-defined)
	Groups    []string          // names of groups this host is a direct member of
}

// Group is a named set of hosts and/or other groups sharing variables.
type Group struct {
	Name     string
	Hosts    map[string]bool   // direct member host names
	Children map[string]bool   // direct child group names
	Vars     map[string]string // group-scoped variables
}

// Inventory is the fully parsed and resolved host/group graph.
type Inventory struct {
	Hosts  map[string]*Host
	Groups map[string]*Group

	// HostOrder preserves the order in which hosts were first declared,
	// used by host-selector resolution (§4.1: "result preserves inventory
	// declaration order").
	HostOrder []string
}

const (
	// AllGroup is the implicit group every host belongs to.
	AllGroup = "all"
	// UngroupedGroup holds hosts that are not members of any user-defined group.
	UngroupedGroup = "ungrouped"
)

// New returns an empty Inventory with the two implicit groups pre-created.
func New() *Inventory {
	inv := &Inventory{
		Hosts:  map[string]*Host{},
		Groups: map[string]*Group{},
	}
	inv.ensureGroup(AllGroup)
	inv.ensureGroup(UngroupedGroup)
	return inv
}

func (inv *Inventory) ensureGroup(name string) *Group {
	if g, ok := inv.Groups[name]; ok {
		return g
	}
	g := &Group{Name: name, Hosts: map[string]bool{}, Children: map[string]bool{}, Vars: map[string]string{}}
	inv.Groups[name] = g
	return g
}

// addHost registers a host (if not already present) and attaches it to the group.
func (inv *Inventory) addHost(h *Host, group string) {
	existing, ok := inv.Hosts[h.Name]
	if !ok {
		inv.Hosts[h.Name] = h
		inv.HostOrder = append(inv.HostOrder, h.Name)
		existing = h
	}
	inv.ensureGroup(group).Hosts[h.Name] = true
	inv.ensureGroup(AllGroup).Hosts[h.Name] = true
	found := false
	for _, g := range existing.Groups {
		if g == group {
			found = true
			break
		}
	}
	if !found {
		existing.Groups = append(existing.Groups, group)
	}
}

// addChild registers group as a child of parent.
func (inv *Inventory) addChild(parent, child string) {
	inv.ensureGroup(parent).Children[child] = true
	inv.ensureGroup(child)
}

// finalize computes "ungrouped" membership and sorts deterministic slices.
// Must run after all hosts/groups are parsed, and after cycle detection.
func (inv *Inventory) finalize() error {
	if err := inv.detectCycles(); err != nil {
		return err
	}

	userGroups := map[string]bool{}
	for name := range inv.Groups {
		if name == AllGroup || name == UngroupedGroup {
			continue
		}
		userGroups[name] = true
	}

	for name, h := range inv.Hosts {
		inGroup := false
		for g := range userGroups {
			if inv.Groups[g].Hosts[name] {
				inGroup = true
				break
			}
		}
		if !inGroup {
			inv.ensureGroup(UngroupedGroup).Hosts[name] = true
			h.Groups = append(h.Groups, UngroupedGroup)
		}
		sort.Strings(h.Groups)
	}
	return nil
}

// detectCycles walks the group-children graph and fails on any cycle.
func (inv *Inventory) detectCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return &ParseError{Msg: "cycle detected in group hierarchy: " + joinPath(append(path, name))}
		}
		color[name] = gray
		g := inv.Groups[name]
		if g != nil {
			children := make([]string, 0, len(g.Children))
			for c := range g.Children {
				children = append(children, c)
			}
			sort.Strings(children)
			for _, c := range children {
				if err := visit(c, append(path, name)); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white {
			if err := visit(name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

// ParseError carries the file and line of a malformed inventory or playbook document.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return e.Msg
	}
	if e.Line > 0 {
		return e.File + ":" + strconv.Itoa(e.Line) + ": " + e.Msg
	}
	return e.File + ": " + e.Msg
}
