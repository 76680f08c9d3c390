//go:build arm64

package jitmem

/*
void aj64_clear_cache(void *start, void *end) {
	__builtin___clear_cache((char *)start, (char *)end);
}
*/
import "C"
import "unsafe"

// flushICache invalidates the host instruction cache over mem's range so
// the CPU cannot execute stale cache lines from before the RW->RX
// transition. __builtin___clear_cache compiles to the right primitive on
// both Linux (a series of `ic ivau`/`isb`) and Darwin (sys_icache_invalidate)
// arm64 targets, which is why this file does not need a separate Darwin
// cgo shim for sys_icache_invalidate.
func flushICache(mem []byte) {
	if len(mem) == 0 {
		return
	}
	start := unsafe.Pointer(&mem[0])
	end := unsafe.Pointer(uintptr(start) + uintptr(len(mem)))
	C.aj64_clear_cache(start, end)
}
