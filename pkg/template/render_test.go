package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString_basic(t *testing.T) {
	e := NewEngine(".")
	out, err := e.RenderString("hello {{ name }}", Vars{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRenderString_undefinedFails(t *testing.T) {
	e := NewEngine(".")
	_, err := e.RenderString("{{ nope }}", Vars{})
	require.Error(t, err)
	var terr *TemplateError
	assert.ErrorAs(t, err, &terr)
}

func TestRenderString_filters(t *testing.T) {
	e := NewEngine(".")
	out, err := e.RenderString("{{ name | upper }}", Vars{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "BOB", out)

	out, err = e.RenderString("{{ missing | default('fallback') }}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestRenderString_iterativeResolution(t *testing.T) {
	e := NewEngine(".")
	vars := Vars{"a": "{{ b }}", "b": "{{ c }}", "c": "final"}
	out, err := e.RenderString("{{ a }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "final", out)
}

func TestRenderString_ifBlock(t *testing.T) {
	e := NewEngine(".")
	tpl := "{% if env == 'prod' %}PROD{% else %}OTHER{% endif %}"
	out, err := e.RenderString(tpl, Vars{"env": "prod"})
	require.NoError(t, err)
	assert.Equal(t, "PROD", out)

	out, err = e.RenderString(tpl, Vars{"env": "dev"})
	require.NoError(t, err)
	assert.Equal(t, "OTHER", out)
}

func TestRenderString_forBlock(t *testing.T) {
	e := NewEngine(".")
	tpl := "{% for x in items %}[{{ x }}]{% endfor %}"
	out, err := e.RenderString(tpl, Vars{"items": []any{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, "[a][b][c]", out)
}

func TestRenderStructure(t *testing.T) {
	e := NewEngine(".")
	tree := map[string]any{
		"name": "{{ who }}",
		"port": float64(80),
		"tags": []any{"{{ who }}-tag"},
	}
	out, err := e.RenderStructure(tree, Vars{"who": "web"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "web", m["name"])
	assert.Equal(t, float64(80), m["port"])
	assert.Equal(t, []any{"web-tag"}, m["tags"])
}

func TestEvaluateExpr_stripsDelimitersAndKeepsNativeType(t *testing.T) {
	e := NewEngine(".")
	out, err := e.EvaluateExpr("{{ packages }}", Vars{"packages": []any{"nginx", "curl"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"nginx", "curl"}, out)
}

func TestEvaluateExpr_bareExprWithoutDelimiters(t *testing.T) {
	e := NewEngine(".")
	out, err := e.EvaluateExpr("count", Vars{"count": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestEvaluateExpr_undefinedFails(t *testing.T) {
	e := NewEngine(".")
	_, err := e.EvaluateExpr("{{ missing }}", Vars{})
	require.Error(t, err)
}

func TestEvaluateWhen_bareExpr(t *testing.T) {
	e := NewEngine(".")
	ok, err := e.EvaluateWhen("env == 'prod'", Vars{"env": "prod"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateWhen_listIsAnd(t *testing.T) {
	e := NewEngine(".")
	ok, err := e.EvaluateWhen([]any{"a == 1", "b == 2"}, Vars{"a": float64(1), "b": float64(2)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateWhen([]any{"a == 1", "b == 3"}, Vars{"a": float64(1), "b": float64(2)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateWhen_nilIsTrue(t *testing.T) {
	e := NewEngine(".")
	ok, err := e.EvaluateWhen(nil, Vars{})
	require.NoError(t, err)
	assert.True(t, ok)
}
