package inventory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostVars_precedence(t *testing.T) {
	src := `
[web]
web1 color=from_host

[east]
web1

[west]
web1

[web:vars]
color=from_web_group
region=web_default

[east:vars]
color=from_east
`
	inv, err := ParseINI(strings.NewReader(src), "inv.ini")
	require.NoError(t, err)

	inv.Groups[AllGroup].Vars["color"] = "from_all"

	vars := inv.HostVars("web1", nil, nil)
	// sibling groups "east" and "west" at the same depth: alphabetical tie-break, "east" < "web" < "west"
	assert.Equal(t, "from_web_group", vars["color"])
	assert.Equal(t, "web_default", vars["region"])

	hostVars := inv.HostVars("web1", map[string]string{"color": "from_overlay"}, map[string]string{"color": "from_host_overlay"})
	assert.Equal(t, "from_host_overlay", hostVars["color"])
}

func TestCombine(t *testing.T) {
	a := map[string]string{"x": "1", "y": "2"}
	b := map[string]string{"y": "3", "z": "4"}
	got := Combine(a, b)
	assert.Equal(t, map[string]string{"x": "1", "y": "3", "z": "4"}, got)
}
