package inventory

import (
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOverlays reads group_vars/<name> and host_vars/<name> (a single file
// or a directory of files) relative to baseDir and merges their contents
// into the matching group's or host's Vars map.
func LoadOverlays(inv *Inventory, baseDir string) error {
	if err := loadOverlayDir(filepath.Join(baseDir, "group_vars"), func(name string, vars map[string]string) {
		if g, ok := inv.Groups[name]; ok {
			for k, v := range vars {
				g.Vars[k] = v
			}
		}
	}); err != nil {
		return err
	}

	return loadOverlayDir(filepath.Join(baseDir, "host_vars"), func(name string, vars map[string]string) {
		if h, ok := inv.Hosts[name]; ok {
			for k, v := range vars {
				h.Vars[k] = v
			}
		}
	})
}

func loadOverlayDir(dir string, apply func(name string, vars map[string]string)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(dir, e.Name())
		vars, err := readOverlayVars(path, e)
		if err != nil {
			return err
		}
		if vars != nil {
			log.Printf("[DEBUG] loaded overlay vars for %q from %s", name, path)
			apply(name, vars)
		}
	}
	return nil
}

func readOverlayVars(path string, e fs.DirEntry) (map[string]string, error) {
	if e.IsDir() {
		merged := map[string]string{}
		sub, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		sort.Slice(sub, func(i, j int) bool { return sub[i].Name() < sub[j].Name() })
		for _, f := range sub {
			if f.IsDir() {
				continue
			}
			v, err := readOverlayFile(filepath.Join(path, f.Name()))
			if err != nil {
				return nil, err
			}
			for k, val := range v {
				merged[k] = val
			}
		}
		return merged, nil
	}
	return readOverlayFile(path)
}

func readOverlayFile(path string) (map[string]string, error) {
	f, err := os.Open(path) // nolint
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint

	return decodeVarsYAML(f)
}

func decodeVarsYAML(r io.Reader) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]string{}, nil
		}
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = stringifyScalar(v)
	}
	return out, nil
}
