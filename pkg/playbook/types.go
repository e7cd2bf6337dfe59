// Package playbook translates parsed YAML/TOML tree data into the strongly
// shaped Play/Task/Block/Handler/Role structures the runner executes.
// Task-shape unmarshalling decodes to a map first, special-cases the fields
// the core knows about, then treats whatever remains as the module argument
// bag.
package playbook

// Document is a sequence of plays, the top-level unit a playbook file holds.
type Document struct {
	Plays []Play
}

// Play binds a host selector to an ordered task sequence and handlers.
type Play struct {
	Name           string
	Hosts          string
	GatherFacts    bool
	Vars           map[string]any
	VarsFiles      []string
	Roles          []RoleRef
	PreTasks       []Task
	Tasks          []Task
	PostTasks      []Task
	Handlers       []Task
	Become         bool
	BecomeUser     string
	BecomeMethod   string
	CheckMode      bool
	Diff           bool
	AnyErrorsFatal bool
}

// RoleRef names a role to include in a play, with role-level variable
// overrides (the second-highest-priority tier below extra-vars, per the
// inventory variable-precedence table).
type RoleRef struct {
	Name string
	Vars map[string]any
}

// LoopControl customizes loop-expansion behavior.
type LoopControl struct {
	LoopVar string // default "item"
	Label   string
}

// BecomeSpec overrides a play's become defaults at task scope.
type BecomeSpec struct {
	Enabled bool
	User    string
	Method  string
}

// RoleInclude is the target of include_role/import_role.
type RoleInclude struct {
	Name string
	Vars map[string]any
}

// Task is a single module invocation, or (when Block is non-nil) a task
// container with body/rescue/always semantics.
type Task struct {
	Name string

	// Module is the registry key after namespace-qualification
	// normalization (§4.4 "Qualification rules"); RawModule preserves what
	// was actually written, for diagnostics.
	Module    string
	RawModule string
	Args      map[string]any

	Register     string
	When         any // string, or []any for the bool-list-AND shorthand
	Loop         any
	LoopControl  LoopControl
	IgnoreErrors bool
	ChangedWhen  any
	FailedWhen   any
	Notify       []string
	Tags         []string
	Become       *BecomeSpec
	CheckMode    *bool
	Diff         *bool
	DelegateTo   string
	Vars         map[string]any

	Block  []Task
	Rescue []Task
	Always []Task

	IsHandler  bool
	ListenTags []string

	// Dynamic/static include directives. import_* are expanded during
	// parsing (so a fully parsed Document never carries a populated
	// ImportTasks/ImportRole); include_* survive into the Document because
	// their expansion depends on runtime context (when, loop, variables).
	IncludeTasks string
	ImportTasks  string
	IncludeRole  *RoleInclude
	ImportRole   *RoleInclude
}

// IsBlock reports whether a Task is actually a block container.
func (t *Task) IsBlock() bool {
	return t.Block != nil || t.Rescue != nil || t.Always != nil
}
