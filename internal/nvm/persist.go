package nvm

import (
	"golang.org/x/sys/unix"

	"github.com/softdb/softdb/internal/base"
)

// persistBarrier flushes data to persistent memory — a stand-in for the
// original's clflush/sfence pair. There is no portable clflush in Go;
// msync over the memory-mapped region backing data is the closest POSIX
// analogue, using the teacher's own golang.org/x/sys/unix dependency. data
// must lie inside a host-provided mapping of the NVM device; hosts without
// one run with RunInDRAM set, which makes this a no-op per spec §6.
func persistBarrier(data []byte, runInDRAM bool) error {
	if runInDRAM || len(data) == 0 {
		return nil
	}
	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
		return base.IOErrorf("softdb: persist barrier failed: %v", err)
	}
	return nil
}
