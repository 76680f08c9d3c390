//go:build !((linux || darwin) && arm64)

package nativecall

import (
	"github.com/bitforge-vm/aj64jit/internal/isa"
	"github.com/bitforge-vm/aj64jit/internal/obslog"
	"github.com/bitforge-vm/aj64jit/internal/translator"
)

// This build covers hosts other than linux/arm64 or darwin/arm64: the
// project's generated code is arm64-only (spec §1), so there is nothing
// real to call into. Mirrors the teacher's x86_not_execute.go fallback.

func ResolveHostFuncs() translator.HostFuncs { return translator.HostFuncs{} }

func InstallFaultHandler() {}

func Run(fnAddr uintptr, memory []byte, regs *[isa.NumRegisters]uint64, entry uint64, workerID uint64, stackSize int) int32 {
	obslog.Crit(obslog.ModNativecall, "native execution is only supported on linux/arm64 and darwin/arm64")
	return -1
}

func HaltCurrent() {}
