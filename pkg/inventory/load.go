package inventory

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Load parses an inventory source (file path or http(s) URL) in either the
// line-oriented sections format or the hierarchical YAML/TOML document
// format, then applies any group_vars/host_vars overlays found next to a
// local file. An empty location yields a valid, empty inventory.
func Load(loc string) (*Inventory, error) {
	if strings.TrimSpace(loc) == "" {
		return New(), nil
	}

	data, err := readLocation(loc)
	if err != nil {
		return nil, err
	}

	inv, err := parseBytes(data, loc)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(loc, "http") {
		if err := LoadOverlays(inv, dirOf(loc)); err != nil {
			return nil, fmt.Errorf("can't load overlay vars for %s: %w", loc, err)
		}
	}

	log.Printf("[INFO] inventory loaded from %s: %d hosts, %d groups", loc, len(inv.Hosts), len(inv.Groups))
	return inv, nil
}

func readLocation(loc string) ([]byte, error) {
	if strings.HasPrefix(loc, "http") {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(loc) // nolint
		if err != nil {
			return nil, fmt.Errorf("can't get inventory from %s: %w", loc, err)
		}
		defer resp.Body.Close() // nolint
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("can't get inventory from %s, status: %s", loc, resp.Status)
		}
		return io.ReadAll(resp.Body)
	}

	data, err := os.ReadFile(loc) // nolint
	if err != nil {
		return nil, fmt.Errorf("can't open inventory %s: %w", loc, err)
	}
	return data, nil
}

// parseBytes picks a parser by extension/content: .ini or no recognizable
// extension is assumed line-oriented; .yml/.yaml/.toml use the hierarchical
// document format; content sniffing (first non-blank char is "[") resolves
// ambiguous extension-less sources in favor of the line-oriented format.
func parseBytes(data []byte, fname string) (*Inventory, error) {
	switch {
	case strings.HasSuffix(fname, ".toml"):
		return ParseTOMLDocument(data, fname)
	case strings.HasSuffix(fname, ".yml"), strings.HasSuffix(fname, ".yaml"):
		return ParseYAMLDocument(strings.NewReader(string(data)), fname)
	case strings.HasSuffix(fname, ".ini"):
		return ParseINI(strings.NewReader(string(data)), fname)
	default:
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "{") || looksLikeYAMLDoc(trimmed) {
			return ParseYAMLDocument(strings.NewReader(string(data)), fname)
		}
		return ParseINI(strings.NewReader(string(data)), fname)
	}
}

// looksLikeYAMLDoc is a light heuristic: the line-oriented format always
// starts a real section with "[", while the document format's top-level
// keys are bare group names followed by a colon.
func looksLikeYAMLDoc(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return !strings.HasPrefix(line, "[")
	}
	return false
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
