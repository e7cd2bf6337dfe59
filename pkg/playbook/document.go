package playbook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load parses a playbook document from data, guessing the format from
// filename's extension (falling back to YAML for an extensionless name).
func Load(filename string, data []byte) (*Document, error) {
	raws, err := decodeRawPlays(filename, data)
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	for i, raw := range raws {
		where := fmt.Sprintf("play[%d]", i)
		if n := asString(raw["name"]); n != "" {
			where = n
		}
		play, err := parsePlay(raw, where)
		if err != nil {
			return nil, err
		}
		doc.Plays = append(doc.Plays, play)
	}
	return doc, nil
}

func decodeRawPlays(filename string, data []byte) ([]map[string]any, error) {
	switch {
	case strings.HasSuffix(filename, ".yml") || strings.HasSuffix(filename, ".yaml") || !strings.Contains(filename, "."):
		var seq []map[string]any
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&seq); err == nil {
			return seq, nil
		}
		// not a top-level sequence; accept a single bare play mapping too
		var single map[string]any
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, &ParseError{File: filename, Msg: fmt.Sprintf("can't parse yaml playbook: %v", err)}
		}
		return []map[string]any{single}, nil

	case strings.HasSuffix(filename, ".toml"):
		var wrapper struct {
			Plays []map[string]any `toml:"plays"`
		}
		if err := toml.Unmarshal(data, &wrapper); err != nil {
			return nil, &ParseError{File: filename, Msg: fmt.Sprintf("can't parse toml playbook: %v", err)}
		}
		return wrapper.Plays, nil

	default:
		return nil, &ParseError{File: filename, Msg: "unknown playbook format"}
	}
}

var rejectedPlayKeys = []string{"serial", "throttle", "max_fail_percentage"}

func parsePlay(raw map[string]any, where string) (Play, error) {
	if err := rejectUnsupported(raw, where); err != nil {
		return Play{}, err
	}
	for _, key := range rejectedPlayKeys {
		if _, ok := raw[key]; ok {
			return Play{}, &UnsupportedFeatureError{Feature: key, Where: where}
		}
	}

	p := Play{
		Name:         asString(raw["name"]),
		Hosts:        asString(raw["hosts"]),
		GatherFacts:  true,
		VarsFiles:    asStringList(raw["vars_files"]),
		Become:       asBool(raw["become"]),
		BecomeUser:   asString(raw["become_user"]),
		BecomeMethod: asString(raw["become_method"]),
		CheckMode:    asBool(raw["check_mode"]),
		Diff:         asBool(raw["diff"]),
	}
	if v, ok := raw["gather_facts"]; ok {
		p.GatherFacts = asBool(v)
	}
	if v, ok := raw["any_errors_fatal"]; ok {
		p.AnyErrorsFatal = asBool(v)
	}
	if v, ok := raw["vars"].(map[string]any); ok {
		p.Vars = v
	}

	var err error
	if p.Roles, err = parseRoleRefs(raw["roles"]); err != nil {
		return Play{}, err
	}
	if p.PreTasks, err = parseTaskList(raw["pre_tasks"], where); err != nil {
		return Play{}, err
	}
	if p.Tasks, err = parseTaskList(raw["tasks"], where); err != nil {
		return Play{}, err
	}
	if p.PostTasks, err = parseTaskList(raw["post_tasks"], where); err != nil {
		return Play{}, err
	}
	if p.Handlers, err = parseTaskList(raw["handlers"], where); err != nil {
		return Play{}, err
	}
	for i := range p.Handlers {
		p.Handlers[i].IsHandler = true
	}

	return p, nil
}

func parseRoleRefs(v any) ([]RoleRef, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]RoleRef, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case string:
			out = append(out, RoleRef{Name: val})
		case map[string]any:
			ref := RoleRef{Name: asString(val["role"])}
			if ref.Name == "" {
				ref.Name = asString(val["name"])
			}
			vars := map[string]any{}
			for k, v := range val {
				if k == "role" || k == "name" {
					continue
				}
				vars[k] = v
			}
			if len(vars) > 0 {
				ref.Vars = vars
			}
			out = append(out, ref)
		default:
			return nil, fmt.Errorf("invalid roles entry %v", item)
		}
	}
	return out, nil
}
