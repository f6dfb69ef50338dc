// Package sqlitepath locates the transcript database for commands that read it.
package sqlitepath

import (
	"errors"
	"os"
	"path/filepath"
)

// EnvVar names the environment variable consulted when no path is given.
const EnvVar = "TASKVOX_TRANSCRIPT_PATH"

// ErrNotFound is returned when no database could be located.
var ErrNotFound = errors.New("no transcript database found, pass --sqlite or set " + EnvVar)

// DefaultPaths lists where taskvox looks for a transcript database, in order.
func DefaultPaths() []string {
	paths := []string{"taskvox.db"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".taskvox", "taskvox.db"))
	}
	return paths
}

// ResolveSQLitePath returns override when set, then the environment variable,
// then the first existing default path.
func ResolveSQLitePath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(EnvVar); env != "" {
		return env, nil
	}

	for _, candidate := range DefaultPaths() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", ErrNotFound
}
