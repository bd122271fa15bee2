package fdcache

import (
	"os"

	"golang.org/x/sys/unix"
)

func preallocateFull(f *os.File, length int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, length)
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		return f.Truncate(length)
	}
	return err
}
