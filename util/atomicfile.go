package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path by writing to a temp file in the same
// directory and renaming it over the destination. Same-directory temp files
// guarantee the rename is on the same filesystem, so POSIX rename semantics
// make the replacement atomic: a concurrent reader never observes a
// partially-written file (spec §5, reverse-proxy config invariant).
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("util: create temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	// if anything below fails, remove the temp file rather than leaving it behind.
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("util: write temp file %q: %w", tmpPath, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("util: chmod temp file %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("util: close temp file %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("util: rename %q to %q: %w", tmpPath, path, err)
	}
	succeeded = true
	return nil
}
