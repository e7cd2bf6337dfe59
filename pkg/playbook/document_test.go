package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_basicPlay(t *testing.T) {
	data := []byte(`
- name: deploy app
  hosts: web
  vars:
    app_version: "1.2.3"
  tasks:
    - name: install package
      command: "echo hi"
    - name: copy config
      copy:
        src: app.conf
        dest: /etc/app.conf
`)
	doc, err := Load("site.yml", data)
	require.NoError(t, err)
	require.Len(t, doc.Plays, 1)

	p := doc.Plays[0]
	assert.Equal(t, "deploy app", p.Name)
	assert.Equal(t, "web", p.Hosts)
	assert.True(t, p.GatherFacts)
	require.Len(t, p.Tasks, 2)

	assert.Equal(t, "command", p.Tasks[0].Module)
	assert.Equal(t, "echo hi", p.Tasks[0].Args["_raw_params"])

	assert.Equal(t, "copy", p.Tasks[1].Module)
	assert.Equal(t, "app.conf", p.Tasks[1].Args["src"])
}

func TestLoad_qualifiedModuleName(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  tasks:
    - name: t
      ansible.builtin.debug:
        msg: hi
`)
	doc, err := Load("site.yml", data)
	require.NoError(t, err)
	task := doc.Plays[0].Tasks[0]
	assert.Equal(t, "debug", task.Module)
	assert.Equal(t, "ansible.builtin.debug", task.RawModule)
}

func TestLoad_argsBlockMergesWithInlineString(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  tasks:
    - name: t
      command: "echo hi"
      args:
        chdir: /tmp
`)
	doc, err := Load("site.yml", data)
	require.NoError(t, err)
	task := doc.Plays[0].Tasks[0]
	assert.Equal(t, "echo hi", task.Args["_raw_params"])
	assert.Equal(t, "/tmp", task.Args["chdir"])
}

func TestLoad_ambiguousModuleRejected(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  tasks:
    - name: t
      command: "echo hi"
      shell: "echo bye"
`)
	_, err := Load("site.yml", data)
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestLoad_unsupportedStrategyRejected(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  strategy: free
  tasks:
    - name: t
      command: "echo hi"
`)
	_, err := Load("site.yml", data)
	require.Error(t, err)
	var uerr *UnsupportedFeatureError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "strategy", uerr.Feature)
}

func TestLoad_unsupportedSerialRejected(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  serial: 2
  tasks:
    - name: t
      command: "echo hi"
`)
	_, err := Load("site.yml", data)
	require.Error(t, err)
	var uerr *UnsupportedFeatureError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "serial", uerr.Feature)
}

func TestLoad_blockRescueAlways(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  tasks:
    - name: risky block
      block:
        - name: step1
          command: "false"
      rescue:
        - name: recover
          command: "echo recovering"
      always:
        - name: cleanup
          command: "echo done"
`)
	doc, err := Load("site.yml", data)
	require.NoError(t, err)
	task := doc.Plays[0].Tasks[0]
	require.True(t, task.IsBlock())
	require.Len(t, task.Block, 1)
	require.Len(t, task.Rescue, 1)
	require.Len(t, task.Always, 1)
	assert.Equal(t, "command", task.Block[0].Module)
}

func TestLoad_loopAndWithItemsSugar(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  tasks:
    - name: t
      command: "echo {{ item }}"
      with_items: [a, b, c]
`)
	doc, err := Load("site.yml", data)
	require.NoError(t, err)
	task := doc.Plays[0].Tasks[0]
	assert.Equal(t, []any{"a", "b", "c"}, task.Loop)
	assert.Equal(t, "item", task.LoopControl.LoopVar)
}

func TestLoad_handlersMarkedAsHandler(t *testing.T) {
	data := []byte(`
- name: p
  hosts: all
  tasks:
    - name: t
      command: "echo hi"
      notify: restart service
  handlers:
    - name: restart service
      command: "systemctl restart app"
`)
	doc, err := Load("site.yml", data)
	require.NoError(t, err)
	require.Len(t, doc.Plays[0].Handlers, 1)
	assert.True(t, doc.Plays[0].Handlers[0].IsHandler)
	assert.Equal(t, []string{"restart service"}, doc.Plays[0].Tasks[0].Notify)
}
