//go:build !darwin && !linux

package storage

import (
	"fmt"
	"runtime"
)

// Detection is best effort: checkLocalFilesystem treats this error as
// "unknown" and lets the database open proceed.
func detectFilesystemType(path string) (string, error) {
	return "", fmt.Errorf("filesystem type detection not supported on %s", runtime.GOOS)
}
