// Package atomicfile replaces files shared with other processes so a reader,
// or a reboot, only ever sees the old content or the new content in full.
package atomicfile

import (
	"fmt"
	"os"
)

// TempPath is the temporary file used for path when none is given.
func TempPath(path string) string { return path + ".tmp" }

// WriteFile writes data to tmpPath, syncs it and renames it over path.
// tmpPath must be on the same filesystem as path; empty means TempPath(path).
func WriteFile(path, tmpPath string, data []byte, perm os.FileMode) error {
	if tmpPath == "" {
		tmpPath = TempPath(path)
	}
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
