package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte("hi there\n"), 0o644))

	e := NewEngine(dir)
	out, err := e.RenderString("{{ file('greeting.txt') }}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestLookupFileglobAndFirstFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.conf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.conf"), []byte("x"), 0o644))

	e := NewEngine(dir)
	out, err := e.RenderString("{{ (fileglob('*.conf') | length) }}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, "2", out)

	found, err := e.RenderString("{{ first_found(['missing.conf', 'a.conf']) }}", Vars{})
	require.NoError(t, err)
	assert.Contains(t, found, "a.conf")
}

func TestLookupPassword_persistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(dir)

	first, err := e.RenderString("{{ password('secret.txt') }}", Vars{})
	require.NoError(t, err)
	assert.Len(t, first, 20)

	second, err := e.RenderString("{{ password('secret.txt') }}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLookupLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.txt"), []byte("one\ntwo\nthree\n"), 0o644))

	e := NewEngine(dir)
	out, err := e.RenderString("{{ (lines('list.txt') | join(',')) }}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, "one,two,three", out)
}
