package inventory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLDocument(t *testing.T) {
	src := `
all:
  vars:
    env: prod
  children:
    web:
      hosts:
        web1:
          ansible_host: 10.0.0.1
        web2: {}
      vars:
        http_port: 80
    db:
      hosts:
        db1: {}
`
	inv, err := ParseYAMLDocument(strings.NewReader(src), "hosts.yml")
	require.NoError(t, err)

	assert.Equal(t, "prod", inv.Groups[AllGroup].Vars["env"])
	assert.Equal(t, "10.0.0.1", inv.Hosts["web1"].Addr)
	assert.Equal(t, "80", inv.Groups["web"].Vars["http_port"])
	assert.True(t, inv.Groups[AllGroup].Hosts["web1"])
	assert.True(t, inv.Groups[AllGroup].Hosts["db1"])
	assert.True(t, inv.Groups["web"].Hosts["web2"])
}
