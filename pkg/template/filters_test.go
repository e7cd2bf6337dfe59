package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilters_table(t *testing.T) {
	testCases := []struct {
		name string
		tpl  string
		vars Vars
		want string
	}{
		{"lower", "{{ s | lower }}", Vars{"s": "ABC"}, "abc"},
		{"upper", "{{ s | upper }}", Vars{"s": "abc"}, "ABC"},
		{"trim", "{{ s | trim }}", Vars{"s": "  x  "}, "x"},
		{"replace", "{{ s | replace('a', 'b') }}", Vars{"s": "banana"}, "bbnbnb"},
		{"regex_replace", "{{ s | regex_replace('[0-9]+', 'N') }}", Vars{"s": "a1b22c"}, "aNbNc"},
		{"join", "{{ items | join(',') }}", Vars{"items": []any{"a", "b", "c"}}, "a,b,c"},
		{"first", "{{ items | first }}", Vars{"items": []any{"a", "b"}}, "a"},
		{"last", "{{ items | last }}", Vars{"items": []any{"a", "b"}}, "b"},
		{"length", "{{ items | length }}", Vars{"items": []any{"a", "b", "c"}}, "3"},
		{"int", "{{ s | int }}", Vars{"s": "42"}, "42"},
		{"bool_true", "{{ s | bool }}", Vars{"s": "x"}, "true"},
		{"string", "{{ n | string }}", Vars{"n": float64(5)}, "5"},
		{"basename", "{{ p | basename }}", Vars{"p": "/a/b/c.txt"}, "c.txt"},
		{"dirname", "{{ p | dirname }}", Vars{"p": "/a/b/c.txt"}, "/a/b"},
		{"b64encode", "{{ s | b64encode }}", Vars{"s": "hi"}, "aGk="},
		{"b64decode", "{{ s | b64decode }}", Vars{"s": "aGk="}, "hi"},
	}

	e := NewEngine(".")
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.RenderString(tc.tpl, tc.vars)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFilterCombine(t *testing.T) {
	e := NewEngine(".")
	vars := Vars{
		"a": map[string]any{"x": "1", "y": "2"},
		"b": map[string]any{"y": "3", "z": "4"},
	}
	out, err := e.RenderString("{{ (a | combine(b)) | to_json }}", vars)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":"1","y":"3","z":"4"}`, out)
}

func TestTests_definedUndefined(t *testing.T) {
	e := NewEngine(".")
	ok, err := e.EvaluateWhen("x is defined", Vars{"x": "1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateWhen("x is undefined", Vars{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateWhen("x is not defined", Vars{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTests_taskResult(t *testing.T) {
	e := NewEngine(".")
	result := map[string]any{"changed": true, "failed": false, "skipped": false}
	ok, err := e.EvaluateWhen("result is changed", Vars{"result": result})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateWhen("result is success", Vars{"result": result})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLookupEnv(t *testing.T) {
	t.Setenv("FLEETPLAY_TEST_VAR", "hello")
	e := NewEngine(".")
	out, err := e.RenderString("{{ env('FLEETPLAY_TEST_VAR') }}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}
