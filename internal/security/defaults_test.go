package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	doc := []byte(`
permissions:
  - type: ENTITY_OP
    target: "sec$User:read"
    value: 1
  - type: SCREEN
    target: "sales$Order.browse"
    value: 0
`)
	defaults, err := LoadDefaults(doc)
	require.NoError(t, err)
	assert.Equal(t, StaticDefaults{
		{Type: PermissionEntityOp, Target: "sec$User:read", Value: AccessAllow},
		{Type: PermissionScreen, Target: "sales$Order.browse", Value: AccessDeny},
	}, defaults)

	values := defaults.DefaultPermissionValues()
	values[0].Value = 7
	assert.Equal(t, AccessAllow, defaults[0].Value)
}

func TestLoadDefaultsRejectsInvalidEntries(t *testing.T) {
	_, err := LoadDefaults([]byte("permissions:\n  - type: BOGUS\n    target: x\n    value: 1\n"))
	assert.Error(t, err)

	_, err = LoadDefaults([]byte("permissions:\n  - type: SCREEN\n    target: x\n"))
	assert.Error(t, err)

	_, err = LoadDefaults([]byte("permissions: ["))
	assert.Error(t, err)
}

func TestLoadDefaultsFile(t *testing.T) {
	defaults, err := LoadDefaultsFile("")
	require.NoError(t, err)
	assert.Empty(t, defaults)

	path := filepath.Join(t.TempDir(), "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte("permissions:\n  - type: UI\n    target: main.menu\n    value: 1\n"), 0o600))
	defaults, err = LoadDefaultsFile(path)
	require.NoError(t, err)
	require.Len(t, defaults, 1)
	assert.Equal(t, PermissionUI, defaults[0].Type)

	_, err = LoadDefaultsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedDefaultsParse(t *testing.T) {
	defaults, err := LoadDefaultsFile(filepath.Join("..", "..", "configs", "default-permissions.yaml"))
	require.NoError(t, err)
	assert.Len(t, defaults.DefaultPermissionValues(), 3)
}
