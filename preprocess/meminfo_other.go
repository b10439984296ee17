//go:build !linux

package preprocess

import "runtime"

// usedRAM returns memory obtained from the OS by the Go runtime in MiB.
func usedRAM() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Sys) / (1 << 20)
}
