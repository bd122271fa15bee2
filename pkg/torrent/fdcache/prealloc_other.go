//go:build !linux

package fdcache

import "os"

func preallocateFull(f *os.File, length int64) error {
	return f.Truncate(length)
}
