// Package artifact handles access to the rendered lab files. Writes go to
// a temporary file adjacent to the target and are committed with an atomic
// rename, so a crash never leaves a partially-written artifact behind.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// Read returns the contents of an artifact as text
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return string(data), nil
}

// Exists reports whether an artifact is present
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteAtomic replaces the artifact at path with data
func WriteAtomic(path string, data string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

// WriteAtomicBytes replaces the artifact at path, creating parent
// directories as needed
func WriteAtomicBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return WriteAtomic(path, string(data))
}
