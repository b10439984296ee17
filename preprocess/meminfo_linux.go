//go:build linux

package preprocess

import (
	"syscall"
)

// usedRAM returns used system memory in MiB.
//
// Ref. http://man7.org/linux/man-pages/man2/sysinfo.2.html
func usedRAM() float64 {
	si := &syscall.Sysinfo_t{}
	if err := syscall.Sysinfo(si); err != nil {
		return 0
	}
	unit := uint64(si.Unit)
	used := (uint64(si.Totalram) - uint64(si.Freeram)) * unit
	return float64(used) / (1 << 20)
}
