package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCommands(t *testing.T) {
	registerCommands()
	t.Cleanup(func() { rootCmd.ResetCommands() })

	for _, name := range []string{"serve", "worker", "migrate", "plays", "token", "export"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestResolveEnvPath(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("APP_ENV=test\n"), 0o644))
	t.Chdir(nested)

	assert.Equal(t, filepath.Join(root, ".env"), resolveEnvPath())
}
