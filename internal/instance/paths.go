// Package instance locates the on-disk state of a named flashd instance.
package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.flashd, or $FLASHD_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("FLASHD_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".flashd")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// ConfigPath returns the instance config file path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// SocketPath returns the control socket path.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "flashd.sock")
}

// SQLitePath returns the SQLite session database path.
func SQLitePath(name string) string {
	return filepath.Join(Dir(name), "sessions.db")
}

// BoltPath returns the bbolt session database path.
func BoltPath(name string) string {
	return filepath.Join(Dir(name), "sessions.bolt")
}

// LogDir returns the log directory for an instance.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "flashd.log")
}

// CookieJarPath returns where flashctl keeps its session cookie.
func CookieJarPath(name string) string {
	return filepath.Join(Dir(name), "flashctl.toml")
}

// GlobalConfigPath returns the global config file path.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the instance directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
