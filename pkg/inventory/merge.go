package inventory

import "sort"

// Combine performs the shallow-merge semantics shared by the variable
// precedence resolver and the template engine's combine() filter: on maps,
// keys from b win over a; on any other value (including lists), b simply
// replaces a.
func Combine(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// HostVars computes the flat variable mapping for a single host by merging,
// in order of increasing priority, tiers 1-5 of §4.1 (the inventory-owned
// tiers; tiers 6-8 — play vars/vars_files, extra-vars, and runtime
// set_fact/register — are layered on top by the playbook/runner).
//
//  1. group vars from group "all"
//  2. other group vars, child groups override parents, alphabetical
//     sibling order breaks ties
//  3. group_vars/* overlay (passed in by caller, already merged per-group)
//  4. host vars from inventory
//  5. host_vars/* overlay (passed in by caller)
func (inv *Inventory) HostVars(hostName string, groupOverlay, hostOverlay map[string]string) map[string]string {
	h := inv.Hosts[hostName]
	if h == nil {
		return map[string]string{}
	}

	out := map[string]string{}
	for k, v := range inv.Groups[AllGroup].Vars {
		out[k] = v
	}

	order := inv.groupMergeOrder(h.Groups)
	for _, g := range order {
		if g == AllGroup {
			continue
		}
		for k, v := range inv.Groups[g].Vars {
			out[k] = v
		}
	}

	for k, v := range groupOverlay {
		out[k] = v
	}
	for k, v := range h.Vars {
		out[k] = v
	}
	for k, v := range hostOverlay {
		out[k] = v
	}
	return out
}

// groupMergeOrder returns the host's ancestor groups (excluding "all")
// ordered so that parents are applied before children, and siblings at the
// same depth are applied in alphabetical order.
func (inv *Inventory) groupMergeOrder(directGroups []string) []string {
	depth := map[string]int{}
	var computeDepth func(name string) int
	computeDepth = func(name string) int {
		if d, ok := depth[name]; ok {
			return d
		}
		depth[name] = 0 // guard against cycles (already rejected at parse)
		best := 0
		for parentName, g := range inv.Groups {
			if g.Children[name] {
				if d := computeDepth(parentName) + 1; d > best {
					best = d
				}
			}
		}
		depth[name] = best
		return best
	}

	ancestors := map[string]bool{}
	var collect func(name string)
	collect = func(name string) {
		for parentName, g := range inv.Groups {
			if g.Children[name] && !ancestors[parentName] {
				ancestors[parentName] = true
				collect(parentName)
			}
		}
	}
	for _, g := range directGroups {
		ancestors[g] = true
		collect(g)
	}
	delete(ancestors, AllGroup)

	names := make([]string, 0, len(ancestors))
	for g := range ancestors {
		names = append(names, g)
	}
	for _, g := range names {
		computeDepth(g)
	}
	sort.Slice(names, func(i, j int) bool {
		if depth[names[i]] != depth[names[j]] {
			return depth[names[i]] < depth[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
