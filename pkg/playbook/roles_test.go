package playbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoleFile(t *testing.T, rolesDir, role, sub, name, content string) {
	t.Helper()
	dir := filepath.Join(rolesDir, role, sub)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadRole_tasksOnly(t *testing.T) {
	rolesDir := t.TempDir()
	writeRoleFile(t, rolesDir, "web", "tasks", "main.yml", `
- name: install nginx
  package:
    name: nginx
`)
	role, err := LoadRole(rolesDir, "web")
	require.NoError(t, err)
	require.Len(t, role.Tasks, 1)
	assert.Equal(t, "package", role.Tasks[0].Module)
}

func TestLoadRole_missingTasksIsError(t *testing.T) {
	rolesDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rolesDir, "empty"), 0o755))
	_, err := LoadRole(rolesDir, "empty")
	require.Error(t, err)
}

func TestLoadRole_defaultsVarsHandlersMeta(t *testing.T) {
	rolesDir := t.TempDir()
	writeRoleFile(t, rolesDir, "app", "tasks", "main.yml", `
- name: notify restart
  command: "echo hi"
  notify: restart app
`)
	writeRoleFile(t, rolesDir, "app", "handlers", "main.yml", `
- name: restart app
  command: "systemctl restart app"
`)
	writeRoleFile(t, rolesDir, "app", "defaults", "main.yml", "port: 8080\n")
	writeRoleFile(t, rolesDir, "app", "vars", "main.yml", "env: prod\n")
	writeRoleFile(t, rolesDir, "app", "meta", "main.yml", `
dependencies:
  - base
`)
	role, err := LoadRole(rolesDir, "app")
	require.NoError(t, err)
	assert.Equal(t, 8080, role.Defaults["port"])
	assert.Equal(t, "prod", role.Vars["env"])
	require.Len(t, role.Handlers, 1)
	require.Len(t, role.Dependencies, 1)
	assert.Equal(t, "base", role.Dependencies[0].Name)
}

func TestExpandStatic_playRoles(t *testing.T) {
	rolesDir := t.TempDir()
	writeRoleFile(t, rolesDir, "base", "tasks", "main.yml", `
- name: base setup
  command: "echo base"
`)

	doc := &Document{Plays: []Play{{
		Name:  "p",
		Hosts: "all",
		Roles: []RoleRef{{Name: "base"}},
		Tasks: []Task{{Name: "t", Module: "command", RawModule: "command", Args: map[string]any{"_raw_params": "echo hi"}}},
	}}}

	require.NoError(t, ExpandStatic(doc, t.TempDir(), rolesDir))
	require.Len(t, doc.Plays[0].Tasks, 2)
	assert.True(t, doc.Plays[0].Tasks[0].IsBlock())
	assert.Equal(t, "role base", doc.Plays[0].Tasks[0].Name)
	assert.Equal(t, "command", doc.Plays[0].Tasks[1].Module)
}

func TestExpandStatic_importTasks(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "extra.yml"), []byte(`
- name: extra step
  command: "echo extra"
`), 0o644))

	doc := &Document{Plays: []Play{{
		Name:  "p",
		Hosts: "all",
		Tasks: []Task{{Name: "include", ImportTasks: "extra.yml"}},
	}}}

	require.NoError(t, ExpandStatic(doc, baseDir, filepath.Join(baseDir, "roles")))
	require.Len(t, doc.Plays[0].Tasks, 1)
	assert.Equal(t, "extra step", doc.Plays[0].Tasks[0].Name)
}

func TestExpandDynamic_includeTasks(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "dyn.yml"), []byte(`
- name: dynamic step
  command: "echo dyn"
`), 0o644))

	task := &Task{IncludeTasks: "dyn.yml"}
	tasks, err := ExpandDynamic(task, baseDir, filepath.Join(baseDir, "roles"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "dynamic step", tasks[0].Name)
}

func TestExpandRole_circularDependencyDetected(t *testing.T) {
	rolesDir := t.TempDir()
	writeRoleFile(t, rolesDir, "a", "tasks", "main.yml", "- name: t\n  command: \"echo a\"\n")
	writeRoleFile(t, rolesDir, "a", "meta", "main.yml", "dependencies:\n  - b\n")
	writeRoleFile(t, rolesDir, "b", "tasks", "main.yml", "- name: t\n  command: \"echo b\"\n")
	writeRoleFile(t, rolesDir, "b", "meta", "main.yml", "dependencies:\n  - a\n")

	_, _, err := expandRole(&RoleInclude{Name: "a"}, rolesDir, t.TempDir(), nil)
	require.Error(t, err)
}
