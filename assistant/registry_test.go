package assistant

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, dir, assistantType string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, assistantType, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestList(t *testing.T) {
	infos := List()
	require.Len(t, infos, 2)
	assert.Equal(t, TypeLisa, infos[0].Type)
	assert.Equal(t, TypeAlex, infos[1].Type)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(TypeLisa))
	assert.True(t, Known(TypeAlex))
	assert.False(t, Known("bob"))
}

func TestRegistryLoadsBundles(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, TypeLisa, map[string]string{
		"01-persona.md": "# Lisa Bundle\npersona: lisa",
		"02-skills.md":  "## skills",
	})

	reg, err := NewRegistry(dir, nil)
	require.NoError(t, err)

	bundle, err := reg.Bundle(TypeLisa)
	require.NoError(t, err)
	assert.Contains(t, bundle, "persona: lisa")
	assert.Contains(t, bundle, "## skills")
	// Files concatenate in path order.
	assert.Less(t,
		strings.Index(bundle, "persona: lisa"),
		strings.Index(bundle, "## skills"))

	_, err = reg.Bundle(TypeAlex)
	assert.Error(t, err)

	_, err = reg.Bundle("bob")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistryNestedBundleFiles(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, TypeAlex, map[string]string{
		"persona.md":          "activation-instructions",
		"skills/reviewing.md": "review skill",
	})

	reg, err := NewRegistry(dir, nil)
	require.NoError(t, err)

	bundle, err := reg.Bundle(TypeAlex)
	require.NoError(t, err)
	assert.Contains(t, bundle, "activation-instructions")
	assert.Contains(t, bundle, "review skill")
}
