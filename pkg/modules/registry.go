package modules

import "strings"

// Registry maps a module's canonical name plus every alias (including
// fully-qualified `<namespace>.<collection>.<module>` forms) to the same
// implementation, generalizing a fixed dispatch-by-shape switch into a
// name-keyed table.
type Registry struct {
	byName map[string]Module
}

// NewRegistry returns a registry pre-populated with the documented built-in
// module surface (§4.4).
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]Module{}}
	r.register([]string{"command"}, &commandModule{raw: false, shell: false})
	r.register([]string{"shell"}, &commandModule{raw: false, shell: true})
	r.register([]string{"raw"}, &commandModule{raw: true, shell: true})
	r.register([]string{"copy"}, &copyModule{})
	r.register([]string{"file"}, &fileModule{})
	r.register([]string{"lineinfile"}, &lineInFileModule{})
	r.register([]string{"blockinfile"}, &blockInFileModule{})
	r.register([]string{"replace"}, &replaceModule{})
	r.register([]string{"stat"}, &statModule{})
	r.register([]string{"ping"}, &pingModule{})
	r.register([]string{"debug"}, &debugModule{})
	r.register([]string{"set_fact"}, &setFactModule{})
	r.register([]string{"assert"}, &assertModule{})
	r.register([]string{"fail"}, &failModule{})
	r.register([]string{"setup", "gather_facts"}, &setupModule{})
	r.register([]string{"wait_for"}, &waitForModule{})

	r.register([]string{"win_command"}, &commandModule{raw: false, shell: false, windows: true})
	r.register([]string{"win_shell"}, &commandModule{raw: false, shell: true, windows: true})
	r.register([]string{"win_copy"}, &copyModule{windows: true})
	r.register([]string{"win_file"}, &fileModule{windows: true})
	r.register([]string{"win_service"}, &winServiceModule{})
	r.register([]string{"win_stat"}, &statModule{windows: true})
	r.register([]string{"win_lineinfile"}, &lineInFileModule{windows: true})
	r.register([]string{"win_wait_for"}, &waitForModule{windows: true})
	return r
}

func (r *Registry) register(names []string, m Module) {
	for _, n := range names {
		r.byName[n] = m
	}
}

// nativeNamespaces lists the namespace prefixes the core treats as a no-op
// when stripping a fully-qualified module name, e.g.
// "ansible.builtin.copy" -> "copy". Anything else falls through to the
// ModuleError below.
var nativeNamespaces = []string{"ansible.builtin.", "ansible.windows.", "community.windows."}

// Resolve dispatches a (possibly qualified) module name to its
// implementation, per §4.4 "Qualification rules": exact match first, then
// a known-namespace-prefix strip and retry.
func (r *Registry) Resolve(name string) (Module, error) {
	if m, ok := r.byName[name]; ok {
		return m, nil
	}
	for _, ns := range nativeNamespaces {
		if strings.HasPrefix(name, ns) {
			stripped := strings.TrimPrefix(name, ns)
			if m, ok := r.byName[stripped]; ok {
				return m, nil
			}
		}
	}
	return nil, &ModuleError{Name: name, Msg: "unknown module (no native implementation, no matching namespace fallback)"}
}
