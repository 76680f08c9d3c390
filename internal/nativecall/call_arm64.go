//go:build (linux || darwin) && arm64

// Package nativecall is the cgo boundary between generated ARM64 machine
// code and the Go runtime: it exports the host shims as C-callable
// functions, runs the generated function with a sigsetjmp landmark so the
// HLT shim can unwind back out of a BLR call into raw code, and installs
// the process-wide SIGSEGV/SIGBUS handler. Grounded on the teacher's own
// escape into cgo (pvm/recompiler/x86_execute.go's ExecuteX86) for
// anything the Go runtime's signal handling cannot reach.
package nativecall

/*
#cgo CFLAGS: -Wall
#include <stdint.h>
#include <stdlib.h>
#include "runtime_arm64.h"

uint64_t aj64_host_func_addr(int which);
*/
import "C"

import (
	"runtime"
	"unsafe"

	"github.com/bitforge-vm/aj64jit/internal/hostshim"
	"github.com/bitforge-vm/aj64jit/internal/isa"
	"github.com/bitforge-vm/aj64jit/internal/obslog"
	"github.com/bitforge-vm/aj64jit/internal/translator"
	"github.com/bitforge-vm/aj64jit/internal/workerpool"
)

func init() {
	hostshim.TerminateFunc = HaltCurrent
	hostshim.CurrentWorkerFunc = currentWorker
}

//export goPrintValue
func goPrintValue(v C.uint64_t) { hostshim.PrintValue(uint64(v)) }

//export goReadValue
func goReadValue() C.uint64_t { return C.uint64_t(hostshim.ReadValue()) }

//export goTerminate
func goTerminate() { hostshim.Terminate() }

//export goThreadCreate
func goThreadCreate(entry C.uint64_t) C.uint64_t {
	return C.uint64_t(hostshim.ThreadCreate(uint64(entry)))
}

//export goThreadJoin
func goThreadJoin(tid C.uint64_t) { hostshim.ThreadJoin(uint64(tid)) }

//export goThreadSleep
func goThreadSleep(ms C.uint64_t) { hostshim.ThreadSleep(uint64(ms)) }

//export goThreadLock
func goThreadLock(id C.uint64_t) { hostshim.ThreadLock(uint64(id)) }

//export goThreadUnlock
func goThreadUnlock(id C.uint64_t) { hostshim.ThreadUnlock(uint64(id)) }

//export goFileRead
func goFileRead(ofs, n, dst C.uint64_t) C.uint64_t {
	return C.uint64_t(hostshim.FileRead(uint64(ofs), uint64(n), uint64(dst)))
}

//export goFileWrite
func goFileWrite(ofs, n, src C.uint64_t) {
	hostshim.FileWrite(uint64(ofs), uint64(n), uint64(src))
}

// These indices mirror the `which` switch in hostfuncs_arm64.c.
const (
	idxPrintValue = iota
	idxReadValue
	idxTerminate
	idxThreadCreate
	idxThreadJoin
	idxThreadSleep
	idxThreadLock
	idxThreadUnlock
	idxFileRead
	idxFileWrite
)

// ResolveHostFuncs returns the native addresses of the exported host shim
// wrappers, ready to be materialized into generated code by the
// translator's HostCallWithOps calls.
func ResolveHostFuncs() translator.HostFuncs {
	addr := func(which C.int) uint64 { return uint64(C.aj64_host_func_addr(which)) }
	return translator.HostFuncs{
		PrintValue:   addr(idxPrintValue),
		ReadValue:    addr(idxReadValue),
		Terminate:    addr(idxTerminate),
		ThreadCreate: addr(idxThreadCreate),
		ThreadJoin:   addr(idxThreadJoin),
		ThreadSleep:  addr(idxThreadSleep),
		ThreadLock:   addr(idxThreadLock),
		ThreadUnlock: addr(idxThreadUnlock),
		FileRead:     addr(idxFileRead),
		FileWrite:    addr(idxFileWrite),
	}
}

// InstallFaultHandler installs the process-wide SIGSEGV/SIGBUS handler.
// Must be called once before any guest code runs.
func InstallFaultHandler() { C.aj64_install_fault_handler() }

// Run invokes the generated function fn(memoryBase, regs, entry) on a
// freshly created OS thread with a stackSize-byte stack, per spec §4.7:
// a runaway guest recursion overruns that small stack and faults rather
// than the calling goroutine's own multi-MB one. Blocks on the calling
// OS thread (locked for the duration) until the worker thread finishes.
// Returns 0 if the call returned normally or 1 if HaltCurrent unwound it,
// matching spec §4.7's run() contract, and -1 if the worker thread could
// not be created.
func Run(fnAddr uintptr, memory []byte, regs *[isa.NumRegisters]uint64, entry uint64, workerID uint64, stackSize int) int32 {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var memPtr *C.uint8_t
	if len(memory) > 0 {
		memPtr = (*C.uint8_t)(unsafe.Pointer(&memory[0]))
	}
	regsPtr := (*C.uint64_t)(unsafe.Pointer(&regs[0]))
	fn := C.aj64_jit_fn(unsafe.Pointer(fnAddr))

	obslog.Trace(obslog.ModNativecall, "entering generated code", "worker", workerID, "entry", entry, "stack_size", stackSize)
	rc := C.aj64_run(fn, memPtr, regsPtr, C.uint64_t(entry), C.uint64_t(workerID), C.size_t(stackSize))
	return int32(rc)
}

// HaltCurrent unwinds the calling OS thread back to its aj64_run landmark.
func HaltCurrent() { C.aj64_halt_current() }

func currentWorker() (*workerpool.Worker, bool) {
	id := uint64(C.aj64_current_worker_id())
	if id == 0 {
		return nil, false
	}
	return workerpool.Lookup(id)
}
