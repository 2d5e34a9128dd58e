package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the base name of the active log file.
const FileName = "loupe.log"

// DefaultLogDir returns the log directory under the default data root
// (~/.local/share/loupe/logs). Falls back to the temp directory if the
// home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "loupe", "logs")
	}
	return filepath.Join(home, ".local", "share", "loupe", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), FileName)
}

// PathFor returns the log file path under an explicit data root. The
// config layer resolves data_root first; logging follows it so logs live
// next to the indexes they describe.
func PathFor(dataRoot string) string {
	return filepath.Join(dataRoot, "logs", FileName)
}

// FindLogFile locates the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. The default data-root path
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	defaultPath := DefaultLogPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath, nil
	}

	return "", fmt.Errorf("no log file found. No command has logged yet.\nExpected at: %s", defaultPath)
}
