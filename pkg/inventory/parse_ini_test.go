package inventory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseINI(t *testing.T) {
	src := `
[web]
web1 ansible_host=10.0.0.1 ansible_port=2222
web[2:3] ansible_user=deploy

[db]
db1

[web:vars]
http_port=80

[prod:children]
web
db
`
	inv, err := ParseINI(strings.NewReader(src), "inventory.ini")
	require.NoError(t, err)

	require.Contains(t, inv.Hosts, "web1")
	assert.Equal(t, "10.0.0.1", inv.Hosts["web1"].Addr)
	assert.Equal(t, 2222, inv.Hosts["web1"].Port)

	require.Contains(t, inv.Hosts, "web2")
	assert.Equal(t, "deploy", inv.Hosts["web2"].User)
	require.Contains(t, inv.Hosts, "web3")

	assert.Equal(t, "80", inv.Groups["web"].Vars["http_port"])

	assert.True(t, inv.Groups["prod"].Children["web"])
	assert.True(t, inv.Groups["prod"].Children["db"])

	assert.True(t, inv.Groups[AllGroup].Hosts["web1"])
	assert.True(t, inv.Groups[AllGroup].Hosts["db1"])
}

func TestParseINI_reservedAllGroup(t *testing.T) {
	_, err := ParseINI(strings.NewReader("[all]\nhost1\n"), "inv.ini")
	require.Error(t, err)
}

func TestParseINI_cycleDetected(t *testing.T) {
	src := `
[a:children]
b

[b:children]
a
`
	_, err := ParseINI(strings.NewReader(src), "inv.ini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestParseINI_ungrouped(t *testing.T) {
	src := `
solo1

[web]
web1
`
	// "solo1" appears before any section header, so it's never a member of a user-defined group
	inv, err := ParseINI(strings.NewReader(src), "inv.ini")
	require.NoError(t, err)
	require.Contains(t, inv.Hosts, "solo1")
	assert.True(t, inv.Groups[UngroupedGroup].Hosts["solo1"])
	assert.False(t, inv.Groups[UngroupedGroup].Hosts["web1"])
}

func TestParseHostLine_quotedValue(t *testing.T) {
	names, fields, err := parseHostLine(`web1 ansible_user=deploy note="hello world"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"web1"}, names)
	assert.Equal(t, "hello world", fields["note"])
}
