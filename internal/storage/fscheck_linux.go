//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfs magic numbers for the network filesystems the gateway refuses to
// keep its state database on.
const (
	fsMagicNFS  = 0x6969
	fsMagicCIFS = 0xFF534D42
	fsMagicSMB  = 0x517B
	fsMagicSMB2 = 0xFE534D42
)

func detectFilesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	switch uint64(stat.Type) {
	case fsMagicNFS:
		return "nfs", nil
	case fsMagicCIFS:
		return "cifs", nil
	case fsMagicSMB:
		return "smbfs", nil
	case fsMagicSMB2:
		return "smb2", nil
	default:
		// Unrecognized magic numbers pass through for the caller's
		// allow/deny decision.
		return fmt.Sprintf("0x%x", uint64(stat.Type)), nil
	}
}
