package groups

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/secengine/internal/datatypes"
	"github.com/odyssey-erp/secengine/internal/security"
)

const definitionsYAML = `
groups:
  - name: north-sales
    constraints:
      - entity: sales$Order
        kind: jpql
        where: "{E}.region = :session$region"
      - entity: sales$Order
        kind: script
        operation: update
        script: "{E}.open"
      - entity: sales$Invoice
        kind: custom
        code: canApprove
    attributes:
      - name: region
        datatype: string
        value: north
      - name: limit
        datatype: int
        value: "500"
  - name: auditors
`

func TestFileProviderLoadsDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionsYAML), 0o600))

	defs, err := NewFileProvider(path, datatypes.NewRegistry()).Definitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)

	north := defs[0]
	assert.Equal(t, "north-sales", north.Name())
	set := north.Constraints()
	assert.Len(t, set.RowFilters("sales$Order"), 1)
	assert.Len(t, set.Scripts("sales$Order", security.OpUpdate), 1)
	assert.Len(t, set.Custom("sales$Invoice"), 1)
	assert.Equal(t, map[string]any{"region": "north", "limit": int32(500)}, north.SessionAttributes())
	assert.Zero(t, defs[1].Constraints().Len())
}

func TestFileProviderEmptyPath(t *testing.T) {
	defs, err := NewFileProvider("", nil).Definitions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestParseDefinitionsRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing name":       "groups:\n  - constraints: []\n",
		"unknown kind":       "groups:\n  - name: g\n    constraints:\n      - entity: e\n        kind: sql\n",
		"jpql without where": "groups:\n  - name: g\n    constraints:\n      - entity: e\n        kind: jpql\n",
		"script without op":  "groups:\n  - name: g\n    constraints:\n      - entity: e\n        kind: script\n        script: x\n",
		"bad attribute":      "groups:\n  - name: g\n    attributes:\n      - name: a\n        datatype: int\n        value: x\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(doc), nil)
			assert.Error(t, err)
		})
	}

	_, err := ParseDefinitions([]byte("groups:\n  - name: g\n    attributes:\n      - name: a\n        datatype: int\n        value: x\n"), nil)
	assert.ErrorIs(t, err, datatypes.ErrUnparsable)
}

func TestShippedDefinitionsParse(t *testing.T) {
	defs, err := NewFileProvider(filepath.Join("..", "..", "configs", "groups.yaml"), datatypes.NewRegistry()).Definitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "auditors", defs[0].Name())
	assert.Len(t, defs[0].Constraints().Custom("sales$Order"), 1)
	assert.Len(t, defs[0].Constraints().Scripts("sales$Order", security.OpUpdate), 1)
}
