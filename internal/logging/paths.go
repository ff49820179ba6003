package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.quiver/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".quiver", "logs")
	}
	return filepath.Join(home, ".quiver", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "quiver.log")
}

// EnsureLogDir creates the directory containing path if it doesn't exist.
func EnsureLogDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
