package inventory

import (
	"path/filepath"
	"strings"
)

// Select resolves a comma-separated selector expression (§4.1) against the
// inventory: each pattern is a group name, host name, shell-style wildcard,
// the literal "all", or a "!pattern" (subtract) / "&pattern" (intersect)
// modifier. Patterns are evaluated left to right; the result preserves
// inventory declaration order. A selector that matches zero hosts is valid
// (callers should warn, not error).
func (inv *Inventory) Select(selector string) []string {
	if strings.TrimSpace(selector) == "" {
		return nil
	}

	var result []string
	inResult := map[string]bool{}

	addAll := func(names []string) {
		for _, n := range names {
			if !inResult[n] {
				inResult[n] = true
				result = append(result, n)
			}
		}
	}
	removeAll := func(names []string) {
		toRemove := map[string]bool{}
		for _, n := range names {
			toRemove[n] = true
		}
		filtered := result[:0]
		for _, n := range result {
			if toRemove[n] {
				delete(inResult, n)
				continue
			}
			filtered = append(filtered, n)
		}
		result = filtered
	}
	intersect := func(names []string) {
		keep := map[string]bool{}
		for _, n := range names {
			keep[n] = true
		}
		filtered := result[:0]
		for _, n := range result {
			if keep[n] {
				filtered = append(filtered, n)
				continue
			}
			delete(inResult, n)
		}
		result = filtered
	}

	for _, pat := range strings.Split(selector, ",") {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		switch {
		case strings.HasPrefix(pat, "!"):
			removeAll(inv.matchPattern(strings.TrimPrefix(pat, "!")))
		case strings.HasPrefix(pat, "&"):
			intersect(inv.matchPattern(strings.TrimPrefix(pat, "&")))
		default:
			addAll(inv.matchPattern(pat))
		}
	}
	return result
}

// matchPattern resolves a single pattern (no !/& modifier) to a list of
// host names, in inventory declaration order.
func (inv *Inventory) matchPattern(pat string) []string {
	var out []string
	if pat == AllGroup {
		for _, name := range inv.HostOrder {
			out = append(out, name)
		}
		return out
	}

	if g, ok := inv.Groups[pat]; ok {
		members := inv.expandGroupMembers(g, map[string]bool{})
		for _, name := range inv.HostOrder {
			if members[name] {
				out = append(out, name)
			}
		}
		return out
	}

	if _, ok := inv.Hosts[pat]; ok {
		return []string{pat}
	}

	if isWildcard(pat) {
		for _, name := range inv.HostOrder {
			if match, _ := filepath.Match(pat, name); match {
				out = append(out, name)
			}
		}
	}
	return out
}

// expandGroupMembers recursively collects every host belonging to g or any
// of its descendant groups.
func (inv *Inventory) expandGroupMembers(g *Group, seen map[string]bool) map[string]bool {
	if seen[g.Name] {
		return map[string]bool{}
	}
	seen[g.Name] = true

	out := map[string]bool{}
	for h := range g.Hosts {
		out[h] = true
	}
	for child := range g.Children {
		if cg, ok := inv.Groups[child]; ok {
			for h := range inv.expandGroupMembers(cg, seen) {
				out[h] = true
			}
		}
	}
	return out
}

func isWildcard(pat string) bool {
	return strings.ContainsAny(pat, "*?[]")
}
