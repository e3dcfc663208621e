// Package datadir resolves the directory tree licensehub keeps its state in.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the data directory name under $HOME.
	DefaultDirName = ".licensehub"

	// EnvVar overrides the data directory.
	EnvVar = "LICENSEHUB_DATA_DIR"

	configSubdir   = "config"
	databaseSubdir = "data"
	backupSubdir   = "backups"

	// DatabaseFile is the default database file name inside DatabaseDir.
	DatabaseFile = "licensehub.db"
	// ConfigFile is the default config file name inside ConfigDir.
	ConfigFile = "config.yaml"
)

// DataDir is the single source of truth for data-directory paths.
type DataDir struct {
	root string
}

// New returns a DataDir rooted at the resolved data directory. It does not
// create anything; call EnsureDirs for that.
//
// Resolution priority:
//  1. LICENSEHUB_DATA_DIR environment variable
//  2. configValue (the data_dir config key)
//  3. ~/.licensehub/
func New(configValue string) (*DataDir, error) {
	root, err := resolveRoot(configValue)
	if err != nil {
		return nil, err
	}
	return &DataDir{root: root}, nil
}

// Root returns the base data directory path.
func (d *DataDir) Root() string { return d.root }

// ConfigDir returns {root}/config/.
func (d *DataDir) ConfigDir() string { return filepath.Join(d.root, configSubdir) }

// DatabaseDir returns {root}/data/.
func (d *DataDir) DatabaseDir() string { return filepath.Join(d.root, databaseSubdir) }

// BackupDir returns {root}/backups/, the default snapshot directory.
func (d *DataDir) BackupDir() string { return filepath.Join(d.root, backupSubdir) }

// DatabasePath returns the default database file path.
func (d *DataDir) DatabasePath() string { return filepath.Join(d.DatabaseDir(), DatabaseFile) }

// ConfigPath returns the default config file path.
func (d *DataDir) ConfigPath() string { return filepath.Join(d.ConfigDir(), ConfigFile) }

// EnsureDirs creates the root and all subdirectories with 0700 permissions.
func (d *DataDir) EnsureDirs() error {
	for _, dir := range []string{d.root, d.ConfigDir(), d.DatabaseDir(), d.BackupDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func resolveRoot(configValue string) (string, error) {
	dir := os.Getenv(EnvVar)
	if dir == "" {
		dir = configValue
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}
	return dir, nil
}
