package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHosts(t *testing.T) {
	testCases := []struct {
		name     string
		token    string
		expected []string
	}{
		{name: "no range", token: "web1", expected: []string{"web1"}},
		{name: "simple numeric range", token: "web[01:03]", expected: []string{"web01", "web02", "web03"}},
		{name: "wide range no padding", token: "web[1:3]", expected: []string{"web1", "web2", "web3"}},
		{name: "stride", token: "web[0:10:5]", expected: []string{"web0", "web5", "web10"}},
		{name: "alpha range", token: "dc[a:c]", expected: []string{"dca", "dcb", "dcc"}},
		{name: "suffix preserved", token: "web[01:02].example.com", expected: []string{"web01.example.com", "web02.example.com"}},
		{
			name: "multiple brackets compose",
			token: "web[01:02]-[a:b]",
			expected: []string{
				"web01-a", "web01-b",
				"web02-a", "web02-b",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandHosts(tc.token)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestExpandHosts_invalidStride(t *testing.T) {
	_, err := ExpandHosts("web[0:10:0]")
	require.Error(t, err)
}
