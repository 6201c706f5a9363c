package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrIsDirectory is returned when a served path names a directory
var ErrIsDirectory = errors.New("path is a directory")

// ConfigDir returns the configuration directory
func ConfigDir() (string, error) {
	// Check environment variable first
	if dir := os.Getenv("TRICKLE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	// Use XDG_CONFIG_HOME if set
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "trickle"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// Platform-specific defaults
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "trickle"), nil

	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "trickle"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "trickle"), nil

	default: // Linux and others
		return filepath.Join(home, ".config", "trickle"), nil
	}
}

// ConfigFile returns the main config file path
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ResolveServed maps a request path onto a regular file below root. Paths
// that climb out of root with ".." or symlinks are clamped to root.
func ResolveServed(root, p string) (string, fs.FileInfo, error) {
	if root == "" {
		return "", nil, fmt.Errorf("no root directory configured")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("invalid root %s: %w", root, err)
	}

	full, err := securejoin.SecureJoin(absRoot, p)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve %s: %w", p, err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s: %w", p, ErrIsDirectory)
	}
	return full, info, nil
}
