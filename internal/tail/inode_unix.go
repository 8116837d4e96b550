//go:build unix

package tail

import (
	"os"
	"syscall"
)

func fileID(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Ino)
	}
	return 0
}
