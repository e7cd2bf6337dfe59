package playbook

import (
	"fmt"
	"os"
	"path/filepath"
)

// Role is the parsed contents of a roles/<name>/ directory: tasks,
// handlers, default and role variables, and flattened meta dependencies
// (§4.5 "Construct role structure").
type Role struct {
	Name         string
	Tasks        []Task
	Handlers     []Task
	Defaults     map[string]any
	Vars         map[string]any
	Dependencies []RoleRef
}

// roleMainFiles are tried in order for each role sub-directory; the first
// one present wins, matching the dual YAML/TOML support used elsewhere.
var roleMainFiles = []string{"main.yml", "main.yaml", "main.toml"}

// LoadRole reads a role directory rooted at rolesDir/name. Missing
// sub-directories (handlers, defaults, vars, meta are all optional) are not
// errors; only a missing tasks/main.<ext> is.
func LoadRole(rolesDir, name string) (*Role, error) {
	dir := filepath.Join(rolesDir, name)

	tasksData, tasksFile, err := readFirstExisting(filepath.Join(dir, "tasks"))
	if err != nil {
		return nil, &ParseError{File: dir, Msg: fmt.Sprintf("role %q: can't read tasks: %v", name, err)}
	}
	if tasksData == nil {
		return nil, &ParseError{File: dir, Msg: fmt.Sprintf("role %q: no tasks/main.(yml|yaml|toml) found", name)}
	}
	tasks, err := parseTaskFile(tasksFile, tasksData, "role "+name)
	if err != nil {
		return nil, err
	}

	role := &Role{Name: name, Tasks: tasks}

	if data, file, err := readFirstExisting(filepath.Join(dir, "handlers")); err == nil && data != nil {
		handlers, err := parseTaskFile(file, data, "role "+name+" handlers")
		if err != nil {
			return nil, err
		}
		for i := range handlers {
			handlers[i].IsHandler = true
		}
		role.Handlers = handlers
	}

	if data, file, err := readFirstExisting(filepath.Join(dir, "defaults")); err == nil && data != nil {
		vars, err := parseVarsFile(file, data)
		if err != nil {
			return nil, err
		}
		role.Defaults = vars
	}

	if data, file, err := readFirstExisting(filepath.Join(dir, "vars")); err == nil && data != nil {
		vars, err := parseVarsFile(file, data)
		if err != nil {
			return nil, err
		}
		role.Vars = vars
	}

	if data, file, err := readFirstExisting(filepath.Join(dir, "meta")); err == nil && data != nil {
		deps, err := parseMetaDependencies(file, data)
		if err != nil {
			return nil, err
		}
		role.Dependencies = deps
	}

	return role, nil
}

// readFirstExisting tries each of roleMainFiles inside dir and returns the
// first that exists. Returns (nil, "", nil) if none are present — this is
// the normal "optional sub-directory" case, not an error.
func readFirstExisting(dir string) ([]byte, string, error) {
	for _, fname := range roleMainFiles {
		full := filepath.Join(dir, fname)
		data, err := os.ReadFile(full) // nolint
		if err == nil {
			return data, full, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", err
		}
	}
	return nil, "", nil
}

func parseTaskFile(file string, data []byte, where string) ([]Task, error) {
	raws, err := decodeRawPlays(file, data) // a task file is just a bare sequence of task maps
	if err != nil {
		return nil, err
	}
	return parseTaskList(toAnySlice(raws), where)
}

func toAnySlice(raws []map[string]any) []any {
	out := make([]any, len(raws))
	for i, r := range raws {
		out[i] = r
	}
	return out
}

func parseVarsFile(file string, data []byte) (map[string]any, error) {
	raws, err := decodeRawPlays(file, data)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}
	return raws[0], nil
}

// LoadVarsFile reads and parses a standalone vars document (a play's
// `vars_files` entry), dual YAML/TOML dispatch by extension exactly like
// role defaults/vars files.
func LoadVarsFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // nolint
	if err != nil {
		return nil, &ParseError{File: path, Msg: fmt.Sprintf("can't read vars file: %v", err)}
	}
	return parseVarsFile(path, data)
}

func parseMetaDependencies(file string, data []byte) ([]RoleRef, error) {
	vars, err := parseVarsFile(file, data)
	if err != nil {
		return nil, err
	}
	return parseRoleRefs(vars["dependencies"])
}
