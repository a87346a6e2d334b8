package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnv names a directory that replaces ~/.config/tusk.
const ConfigDirEnv = EnvPrefix + "_CONFIG_DIR"

// GetConfigDir returns the directory holding config.yaml and the sqlite
// database, creating it on first use. TUSK_CONFIG_DIR wins, then
// $XDG_CONFIG_HOME/tusk, then ~/.config/tusk.
func GetConfigDir() (string, error) {
	dir := os.Getenv(ConfigDirEnv)
	if dir == "" {
		base, err := configBase()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, Name)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}

func configBase() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config"), nil
}

// ResolveFilePath prefers a file in the working directory and otherwise
// points into the config directory, whether or not the file exists there yet.
func ResolveFilePath(filename string) string {
	if _, err := os.Stat(filename); err == nil {
		return filename
	}
	dir, err := GetConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(dir, filename)
}
