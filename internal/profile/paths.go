// Package profile lays out the per-profile directory tree under
// ~/.wppconsole/profiles.
package profile

import (
	"os"
	"path/filepath"
)

// baseDirOverride lets tests redirect the tree.
var baseDirOverride string

// BaseDir returns ~/.wppconsole, or $WPPCONSOLE_HOME when set.
func BaseDir() string {
	if baseDirOverride != "" {
		return baseDirOverride
	}
	if env := os.Getenv("WPPCONSOLE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppconsole")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// ConfigPath returns the profile config file.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// SocketPath returns the control socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "console.sock")
}

// DBPath returns the local state database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "console.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the console log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "console.log")
}

// GlobalConfigPath returns the global config file path.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
