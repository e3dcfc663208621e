package datadir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolution(t *testing.T) {
	dir := t.TempDir()

	t.Run("env var wins", func(t *testing.T) {
		t.Setenv(EnvVar, filepath.Join(dir, "env"))
		d, err := New("/ignored")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "env"), d.Root())
	})

	t.Run("config value", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		d, err := New(filepath.Join(dir, "cfg"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "cfg"), d.Root())
	})

	t.Run("home default", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		t.Setenv("HOME", dir)
		d, err := New("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, DefaultDirName), d.Root())
	})
}

func TestEnsureDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "lh")
	t.Setenv(EnvVar, "")
	d, err := New(root)
	require.NoError(t, err)
	require.NoError(t, d.EnsureDirs())

	for _, sub := range []string{d.ConfigDir(), d.DatabaseDir(), d.BackupDir()} {
		info, err := os.Stat(sub)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
	assert.Equal(t, filepath.Join(root, "data", DatabaseFile), d.DatabasePath())
	assert.Equal(t, filepath.Join(root, "config", ConfigFile), d.ConfigPath())
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line     string
		key, val string
		ok       bool
	}{
		{"A=1", "A", "1", true},
		{"  export B = two ", "B", "two", true},
		{`C="quoted value"`, "C", "quoted value", true},
		{`D='single'`, "D", "single", true},
		{`E="mismatched'`, "E", `"mismatched'`, true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"novalue", "", "", false},
		{"=nokey", "", "", false},
	}
	for _, tt := range tests {
		key, val, ok := ParseEnvLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.key, key, tt.line)
		assert.Equal(t, tt.val, val, tt.line)
	}
}

func TestLoadEnv(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"),
		[]byte("LH_TEST_A=from-file\nLH_TEST_B=file\nLH_TEST_A=second\n"), 0600))

	t.Setenv(EnvFileEnvVar, "")
	t.Setenv("LH_TEST_B", "from-env")
	t.Setenv("LH_TEST_A", "")
	os.Unsetenv("LH_TEST_A")

	require.NoError(t, LoadEnv(root))
	assert.Equal(t, "from-file", os.Getenv("LH_TEST_A"), "first value wins")
	assert.Equal(t, "from-env", os.Getenv("LH_TEST_B"), "environment is not overridden")
}

func TestLoadEnvOverrideFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.env")
	require.NoError(t, os.WriteFile(file, []byte("LH_TEST_C=custom\n"), 0600))

	t.Setenv(EnvFileEnvVar, file)
	t.Setenv("LH_TEST_C", "")
	os.Unsetenv("LH_TEST_C")

	require.NoError(t, LoadEnv(t.TempDir()))
	assert.Equal(t, "custom", os.Getenv("LH_TEST_C"))
}
