package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlays(t *testing.T) {
	dir := t.TempDir()

	src := `
[web]
web1
`
	inv, err := ParseINI(strings.NewReader(src), "inv.ini")
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "group_vars"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group_vars", "web.yml"), []byte("http_port: 8080\n"), 0o644))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "host_vars"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "host_vars", "web1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "host_vars", "web1", "main.yml"), []byte("env: staging\n"), 0o644))

	require.NoError(t, LoadOverlays(inv, dir))

	assert.Equal(t, "8080", inv.Groups["web"].Vars["http_port"])
	assert.Equal(t, "staging", inv.Hosts["web1"].Vars["env"])
}

func TestLoadOverlays_missingDirsAreNotErrors(t *testing.T) {
	inv := New()
	assert.NoError(t, LoadOverlays(inv, t.TempDir()))
}
