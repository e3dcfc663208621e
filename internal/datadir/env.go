package datadir

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileEnvVar names a single .env file to load instead of the defaults.
const EnvFileEnvVar = "LICENSEHUB_ENV_FILE"

// LoadEnv loads KEY=VALUE files into the process environment. The first file
// to set a key wins and variables already in the environment are never
// overridden.
//
// Search order: LICENSEHUB_ENV_FILE alone if set, otherwise {dataRoot}/.env
// followed by ./.env.
func LoadEnv(dataRoot string) error {
	seen := make(map[string]bool)
	for _, p := range envPaths(dataRoot) {
		if err := loadEnvFile(p, seen); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func envPaths(dataRoot string) []string {
	if override := os.Getenv(EnvFileEnvVar); override != "" {
		return []string{override}
	}

	var paths []string
	if dataRoot != "" {
		paths = append(paths, filepath.Join(dataRoot, ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, ".env")
		if len(paths) == 0 || filepath.Clean(paths[0]) != filepath.Clean(local) {
			paths = append(paths, local)
		}
	}
	return paths
}

func loadEnvFile(path string, seen map[string]bool) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := ParseEnvLine(scanner.Text())
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, value)
	}
	return scanner.Err()
}

// ParseEnvLine splits a KEY=VALUE line. Blank lines, comments and lines
// without '=' are rejected. An "export " prefix and matching surrounding
// quotes are stripped.
func ParseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		value = value[1 : len(value)-1]
	}
	return key, value, true
}
