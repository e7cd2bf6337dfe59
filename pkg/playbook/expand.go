package playbook

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExpandStatic eagerly inlines a play's `roles:` list and any import_tasks/
// import_role directives, per §4.5's distinction between static (import_*,
// expanded here, at parse) and dynamic (include_*, expanded by the runner
// when the enclosing task actually executes, since their when/loop/vars
// depend on runtime context).
//
// baseDir roots relative import_tasks paths; rolesDir is where role
// directories are looked up (conventionally baseDir/roles).
func ExpandStatic(doc *Document, baseDir, rolesDir string) error {
	for i := range doc.Plays {
		play := &doc.Plays[i]

		roleTasks, roleHandlers, err := expandPlayRoles(play.Roles, rolesDir, baseDir)
		if err != nil {
			return err
		}
		play.Handlers = append(play.Handlers, roleHandlers...)

		tasks, err := expandTaskList(play.Tasks, baseDir, rolesDir, nil)
		if err != nil {
			return err
		}
		play.Tasks = append(roleTasks, tasks...)

		if play.PreTasks, err = expandTaskList(play.PreTasks, baseDir, rolesDir, nil); err != nil {
			return err
		}
		if play.PostTasks, err = expandTaskList(play.PostTasks, baseDir, rolesDir, nil); err != nil {
			return err
		}
		if play.Handlers, err = expandTaskList(play.Handlers, baseDir, rolesDir, nil); err != nil {
			return err
		}
	}
	return nil
}

func expandPlayRoles(refs []RoleRef, rolesDir, baseDir string) ([]Task, []Task, error) {
	var tasks []Task
	var handlers []Task
	for _, ref := range refs {
		include := &RoleInclude{Name: ref.Name, Vars: ref.Vars}
		expanded, roleHandlers, err := expandRole(include, rolesDir, baseDir, nil)
		if err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, expanded...)
		handlers = append(handlers, roleHandlers...)
	}
	return tasks, handlers, nil
}

func expandTaskList(tasks []Task, baseDir, rolesDir string, visitingRoles map[string]bool) ([]Task, error) {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		switch {
		case t.IsBlock():
			body, err := expandTaskList(t.Block, baseDir, rolesDir, visitingRoles)
			if err != nil {
				return nil, err
			}
			rescue, err := expandTaskList(t.Rescue, baseDir, rolesDir, visitingRoles)
			if err != nil {
				return nil, err
			}
			always, err := expandTaskList(t.Always, baseDir, rolesDir, visitingRoles)
			if err != nil {
				return nil, err
			}
			t.Block, t.Rescue, t.Always = body, rescue, always
			out = append(out, t)

		case t.ImportTasks != "":
			included, err := loadTaskFile(filepath.Join(baseDir, t.ImportTasks))
			if err != nil {
				return nil, err
			}
			expanded, err := expandTaskList(included, baseDir, rolesDir, visitingRoles)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)

		case t.ImportRole != nil:
			expanded, handlers, err := expandRole(t.ImportRole, rolesDir, baseDir, visitingRoles)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
			out = append(out, handlers...) // nested role's handlers notified in its own scope are flushed alongside

		default:
			out = append(out, t)
		}
	}
	return out, nil
}

func expandRole(ref *RoleInclude, rolesDir, baseDir string, visiting map[string]bool) ([]Task, []Task, error) {
	if visiting == nil {
		visiting = map[string]bool{}
	}
	if visiting[ref.Name] {
		return nil, nil, fmt.Errorf("circular role dependency involving %q", ref.Name)
	}
	visiting = cloneVisiting(visiting)
	visiting[ref.Name] = true

	role, err := LoadRole(rolesDir, ref.Name)
	if err != nil {
		return nil, nil, err
	}

	var depTasks []Task
	for _, dep := range role.Dependencies {
		expanded, _, err := expandRole(&RoleInclude{Name: dep.Name, Vars: dep.Vars}, rolesDir, baseDir, visiting)
		if err != nil {
			return nil, nil, err
		}
		depTasks = append(depTasks, expanded...)
	}

	ownTasks, err := expandTaskList(role.Tasks, baseDir, rolesDir, visiting)
	if err != nil {
		return nil, nil, err
	}

	vars := map[string]any{}
	for k, v := range role.Defaults {
		vars[k] = v
	}
	for k, v := range role.Vars {
		vars[k] = v
	}
	for k, v := range ref.Vars {
		vars[k] = v
	}

	block := Task{
		Name:  "role " + ref.Name,
		Block: append(depTasks, ownTasks...),
		Vars:  vars,
	}
	return []Task{block}, role.Handlers, nil
}

func cloneVisiting(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func loadTaskFile(path string) ([]Task, error) {
	data, err := os.ReadFile(path) // nolint
	if err != nil {
		return nil, &ParseError{File: path, Msg: fmt.Sprintf("can't read included task file: %v", err)}
	}
	return parseTaskFile(path, data, "import_tasks "+path)
}

// ExpandDynamic resolves a single include_tasks/include_role directive at
// task-execution time, once `when` has already been evaluated true for the
// host running it. Returns the tasks to splice in place of the directive;
// the runner is responsible for re-evaluating each returned task's own
// `when` against the current host context as it executes them.
func ExpandDynamic(t *Task, baseDir, rolesDir string) ([]Task, error) {
	switch {
	case t.IncludeTasks != "":
		return loadTaskFile(filepath.Join(baseDir, t.IncludeTasks))
	case t.IncludeRole != nil:
		tasks, handlers, err := expandRole(t.IncludeRole, rolesDir, baseDir, nil)
		if err != nil {
			return nil, err
		}
		return append(tasks, handlers...), nil
	default:
		return nil, fmt.Errorf("task %q is not a dynamic include", t.Name)
	}
}
