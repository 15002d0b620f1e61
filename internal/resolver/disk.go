package resolver

import (
	"fmt"
	"syscall"
)

// freeBytesFunc is overridden in tests, the same package-level-var
// injection idiom xssnick-tonutils-storage-provider uses for its cron
// contract-code lookup (internal/cron/service.go's cronContractCodes) to
// swap out a syscall-bound dependency without threading an interface
// through every call site.
var freeBytesFunc = defaultFreeBytes

// defaultFreeBytes reports the bytes of free space available to an
// unprivileged user at path. Grounded on
// bureau-foundation-bureau/sandbox/overlay.go's direct syscall.Statfs
// usage: no ecosystem library wraps statfs any better than the stdlib call
// itself, so this is one of the rare spots that stays on stdlib.
func defaultFreeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("resolver: statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// hasEnoughDiskSpace reports whether path has at least
// totalBytes/1MiB + 1024 MiB free, the precondition Start enforces before
// any transfer begins.
func hasEnoughDiskSpace(path string, totalBytes int64) (bool, error) {
	free, err := freeBytesFunc(path)
	if err != nil {
		return false, err
	}
	const mib = 1024 * 1024
	neededMiB := totalBytes/mib + 1024
	return int64(free) >= neededMiB*mib, nil
}
