package playbook

import (
	"fmt"
	"sort"
	"strings"
)

// reservedTaskKeys are the task-level keys the core recognizes by name
// (§6 "Playbook document"). Anything else present in a task map is taken to
// be the module invocation.
var reservedTaskKeys = map[string]bool{
	"name": true, "args": true, "register": true, "when": true, "loop": true,
	"with_items": true, "loop_control": true, "ignore_errors": true,
	"changed_when": true, "failed_when": true, "notify": true, "tags": true,
	"become": true, "become_user": true, "become_method": true,
	"check_mode": true, "diff": true, "delegate_to": true, "vars": true,
	"block": true, "rescue": true, "always": true,
	"include_tasks": true, "import_tasks": true,
	"include_role": true, "import_role": true,
	"listen": true,
	// rejected constructs, still reserved so they don't get mistaken for a module
	"async": true, "poll": true, "strategy": true, "serial": true,
	"throttle": true, "max_fail_percentage": true,
}

// parseTask normalizes a single raw task map into a Task, per §4.5's
// normalization/validation responsibilities. `where` names the enclosing
// play or block, for diagnostics.
func parseTask(raw map[string]any, where string) (Task, error) {
	if err := rejectUnsupported(raw, where); err != nil {
		return Task{}, err
	}

	t := Task{Name: asString(raw["name"])}

	if isBlockTask(raw) {
		return parseBlockTask(raw, t, where)
	}

	moduleKey, err := findModuleKey(raw)
	if err != nil {
		return Task{}, &ParseError{Msg: fmt.Sprintf("task %q: %v", t.Name, err)}
	}
	t.RawModule = moduleKey
	t.Module = normalizeModuleName(moduleKey)

	args, err := normalizeArgs(raw[moduleKey])
	if err != nil {
		return Task{}, &ParseError{Msg: fmt.Sprintf("task %q: %v", t.Name, err)}
	}
	if extra, ok := raw["args"].(map[string]any); ok {
		for k, v := range extra {
			args[k] = v
		}
	}
	t.Args = args

	t.Register = asString(raw["register"])
	t.When = raw["when"]
	if loop, ok := raw["loop"]; ok {
		t.Loop = loop
	} else if withItems, ok := raw["with_items"]; ok {
		t.Loop = withItems // with_items is sugar for loop (§4.6)
	}
	t.LoopControl = parseLoopControl(raw["loop_control"])
	t.IgnoreErrors = asBool(raw["ignore_errors"])
	t.ChangedWhen = raw["changed_when"]
	t.FailedWhen = raw["failed_when"]
	t.Notify = asStringList(raw["notify"])
	t.Tags = asStringList(raw["tags"])
	t.Become = parseBecome(raw)
	t.CheckMode = asBoolPtr(raw["check_mode"])
	t.Diff = asBoolPtr(raw["diff"])
	t.DelegateTo = asString(raw["delegate_to"])
	if v, ok := raw["vars"].(map[string]any); ok {
		t.Vars = v
	}
	t.ListenTags = asStringList(raw["listen"])

	t.IncludeTasks = asString(raw["include_tasks"])
	t.ImportTasks = asString(raw["import_tasks"])
	t.IncludeRole = parseRoleInclude(raw["include_role"])
	t.ImportRole = parseRoleInclude(raw["import_role"])

	return t, nil
}

func isBlockTask(raw map[string]any) bool {
	_, hasBlock := raw["block"]
	_, hasRescue := raw["rescue"]
	_, hasAlways := raw["always"]
	return hasBlock || hasRescue || hasAlways
}

func parseBlockTask(raw map[string]any, t Task, where string) (Task, error) {
	body, err := parseTaskList(raw["block"], where)
	if err != nil {
		return Task{}, err
	}
	rescue, err := parseTaskList(raw["rescue"], where)
	if err != nil {
		return Task{}, err
	}
	always, err := parseTaskList(raw["always"], where)
	if err != nil {
		return Task{}, err
	}
	if body == nil {
		body = []Task{}
	}
	t.Block = body
	t.Rescue = rescue
	t.Always = always
	t.When = raw["when"]
	t.Tags = asStringList(raw["tags"])
	t.Become = parseBecome(raw)
	t.IgnoreErrors = asBool(raw["ignore_errors"])
	return t, nil
}

func parseTaskList(v any, where string) ([]Task, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, &ParseError{Msg: fmt.Sprintf("%s: expected a list of tasks", where)}
	}
	out := make([]Task, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &ParseError{Msg: fmt.Sprintf("%s: task entries must be mappings", where)}
		}
		tsk, err := parseTask(m, where)
		if err != nil {
			return nil, err
		}
		out = append(out, tsk)
	}
	return out, nil
}

// findModuleKey locates the single non-reserved key in a task map, which is
// taken to be the module name. Exactly one must be present (§4.5 "Validate
// that every task declares exactly one module invocation").
func findModuleKey(raw map[string]any) (string, error) {
	var found []string
	for k := range raw {
		if reservedTaskKeys[k] {
			continue
		}
		found = append(found, k)
	}
	sort.Strings(found)
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no module invocation found")
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("ambiguous module invocation, found %s", strings.Join(found, ", "))
	}
}

// nativeNamespaces mirrors pkg/modules' own qualification-stripping list.
// Kept in sync manually; the two packages don't share a module dependency
// in either direction.
var nativeNamespaces = []string{"ansible.builtin.", "ansible.windows.", "community.windows."}

func normalizeModuleName(raw string) string {
	for _, ns := range nativeNamespaces {
		if strings.HasPrefix(raw, ns) {
			return strings.TrimPrefix(raw, ns)
		}
	}
	return raw
}

// normalizeArgs accepts either a free-form string (stored under
// "_raw_params") or a mapping, per §4.4 "Argument normalization".
func normalizeArgs(v any) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return map[string]any{}, nil
	case string:
		args := parseKeyValueShorthand(val)
		if args == nil {
			args = map[string]any{"_raw_params": val}
		}
		return args, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("module arguments must be a string or a mapping")
	}
}

// parseKeyValueShorthand converts a `key=value key2="quoted value"` string
// into a mapping. Returns nil if the string doesn't look like key=value
// pairs, in which case the caller treats it as a free-form command string.
func parseKeyValueShorthand(s string) map[string]any {
	fields := splitShellWords(s)
	if len(fields) == 0 {
		return nil
	}
	out := map[string]any{}
	for _, f := range fields {
		idx := strings.Index(f, "=")
		if idx <= 0 {
			return nil // not every token is key=value, not shorthand form
		}
		key := f[:idx]
		val := f[idx+1:]
		val = strings.Trim(val, `"'`)
		out[key] = val
	}
	return out
}

// splitShellWords splits on whitespace while honoring single/double quotes,
// so `msg="hello world"` stays one token.
func splitShellWords(s string) []string {
	var fields []string
	var cur strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

func parseLoopControl(v any) LoopControl {
	lc := LoopControl{LoopVar: "item"}
	m, ok := v.(map[string]any)
	if !ok {
		return lc
	}
	if s := asString(m["loop_var"]); s != "" {
		lc.LoopVar = s
	}
	lc.Label = asString(m["label"])
	return lc
}

func parseBecome(raw map[string]any) *BecomeSpec {
	_, hasBecome := raw["become"]
	_, hasUser := raw["become_user"]
	_, hasMethod := raw["become_method"]
	if !hasBecome && !hasUser && !hasMethod {
		return nil
	}
	return &BecomeSpec{
		Enabled: asBool(raw["become"]),
		User:    asString(raw["become_user"]),
		Method:  asString(raw["become_method"]),
	}
}

func parseRoleInclude(v any) *RoleInclude {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return &RoleInclude{Name: val}
	case map[string]any:
		ri := &RoleInclude{Name: asString(val["name"])}
		if vars, ok := val["vars"].(map[string]any); ok {
			ri.Vars = vars
		}
		return ri
	default:
		return nil
	}
}

func rejectUnsupported(raw map[string]any, where string) error {
	if _, ok := raw["async"]; ok {
		if _, ok := raw["poll"]; ok {
			return &UnsupportedFeatureError{Feature: "async+poll", Where: where}
		}
	}
	if s, ok := raw["strategy"]; ok {
		if asString(s) != "linear" {
			return &UnsupportedFeatureError{Feature: "strategy", Where: where}
		}
	}
	for _, key := range []string{"serial", "throttle", "max_fail_percentage"} {
		if _, ok := raw[key]; ok {
			return &UnsupportedFeatureError{Feature: key, Where: where}
		}
	}
	return nil
}
