package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensehub/internal/backup"
	"licensehub/internal/datadir"
)

// run executes the CLI against an isolated data directory.
func run(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(datadir.EnvVar, root)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(root, "config.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "licensehub ")
	assert.Contains(t, out, "Go version:")
}

func TestMigrateCreatesConfigAndDatabase(t *testing.T) {
	root := t.TempDir()
	out, err := run(t, root, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version")

	assert.FileExists(t, filepath.Join(root, "config.yaml"))
	assert.FileExists(t, filepath.Join(root, "data", datadir.DatabaseFile))
}

func TestBackupCommands(t *testing.T) {
	root := t.TempDir()

	out, err := run(t, root, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No backups found.")

	out, err = run(t, root, "backup", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup created:")

	out, err = run(t, root, "backup", "list", "--json")
	require.NoError(t, err)
	var files []backup.FileInfo
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	require.Len(t, files, 1)
	name := files[0].Filename

	_, err = run(t, root, "backup", "restore", name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	out, err = run(t, root, "backup", "restore", name, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored "+name)

	exported := filepath.Join(t.TempDir(), "copy.json")
	_, err = run(t, root, "backup", "export", name, "-o", exported)
	require.NoError(t, err)
	original, err := os.ReadFile(filepath.Join(root, "backups", name))
	require.NoError(t, err)
	copied, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, original, copied)

	out, err = run(t, root, "backup", "import", exported, "--name", "imported.json")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported as imported.json")

	_, err = run(t, root, "backup", "delete", name)
	require.NoError(t, err)
	_, err = run(t, root, "backup", "delete", name)
	assert.ErrorIs(t, err, backup.ErrNotFound)
}

func TestTokenCommand(t *testing.T) {
	root := t.TempDir()
	out, err := run(t, root, "token", "create", "--client-name", "ops")
	require.NoError(t, err)
	assert.Contains(t, out, "lh_")

	out, err = run(t, root, "token", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ops")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "2.0 MB", formatSize(2<<20))
}
