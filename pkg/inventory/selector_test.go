package inventory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInventory(t *testing.T) *Inventory {
	t.Helper()
	src := `
[web]
web1
web2

[db]
db1

[prod:children]
web
db
`
	inv, err := ParseINI(strings.NewReader(src), "inv.ini")
	require.NoError(t, err)
	return inv
}

func TestSelect(t *testing.T) {
	inv := testInventory(t)

	testCases := []struct {
		name     string
		selector string
		expected []string
	}{
		{name: "all", selector: "all", expected: []string{"web1", "web2", "db1"}},
		{name: "single group", selector: "web", expected: []string{"web1", "web2"}},
		{name: "union", selector: "web,db", expected: []string{"web1", "web2", "db1"}},
		{name: "exclude", selector: "prod,!db", expected: []string{"web1", "web2"}},
		{name: "intersect", selector: "all,&web", expected: []string{"web1", "web2"}},
		{name: "wildcard", selector: "web*", expected: []string{"web1", "web2"}},
		{name: "single host", selector: "web1", expected: []string{"web1"}},
		{name: "no match", selector: "nope", expected: nil},
		{name: "empty", selector: "", expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := inv.Select(tc.selector)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestSelect_nestedGroup(t *testing.T) {
	inv := testInventory(t)
	got := inv.Select("prod")
	assert.ElementsMatch(t, []string{"web1", "web2", "db1"}, got)
}
