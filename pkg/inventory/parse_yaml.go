package inventory

import (
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// yamlGroup mirrors the hierarchical document format, with nested groups
// instead of a flat map.
//
//	all:
//	  hosts:
//	    web1: {ansible_host: 10.0.0.1}
//	  children:
//	    web:
//	      hosts: {web1: {}}
//	      vars: {http_port: 80}
type yamlGroup struct {
	Hosts    map[string]map[string]any `yaml:"hosts" toml:"hosts"`
	Vars     map[string]any            `yaml:"vars" toml:"vars"`
	Children map[string]yamlGroup      `yaml:"children" toml:"children"`
}

type yamlDocument map[string]yamlGroup

// ParseYAMLDocument parses the hierarchical document inventory format (YAML).
func ParseYAMLDocument(r io.Reader, fname string) (*Inventory, error) {
	var doc yamlDocument
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{File: fname, Msg: fmt.Sprintf("can't parse yaml inventory: %v", err)}
	}
	return buildFromDocument(doc)
}

// ParseTOMLDocument parses the hierarchical document inventory format (TOML).
func ParseTOMLDocument(data []byte, fname string) (*Inventory, error) {
	var doc yamlDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{File: fname, Msg: fmt.Sprintf("can't parse toml inventory: %v", err)}
	}
	return buildFromDocument(doc)
}

func buildFromDocument(doc yamlDocument) (*Inventory, error) {
	inv := New()

	var walk func(name string, g yamlGroup) error
	walk = func(name string, g yamlGroup) error {
		if name == AllGroup && len(g.Hosts) == 0 && len(g.Children) == 0 && len(g.Vars) == 0 {
			// empty "all" placeholder, still fine
		}
		grp := inv.ensureGroup(name)
		for k, v := range g.Vars {
			grp.Vars[k] = stringifyScalar(v)
		}

		for hostName, fields := range g.Hosts {
			strFields := map[string]string{}
			for k, v := range fields {
				strFields[k] = stringifyScalar(v)
			}
			h, err := hostFromFields(hostName, strFields)
			if err != nil {
				return err
			}
			inv.addHost(h, name)
		}

		for childName, child := range g.Children {
			inv.addChild(name, childName)
			if err := walk(childName, child); err != nil {
				return err
			}
		}
		return nil
	}

	for name, g := range doc {
		if err := walk(name, g); err != nil {
			return nil, err
		}
	}

	if err := inv.finalize(); err != nil {
		return nil, err
	}
	return inv, nil
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
