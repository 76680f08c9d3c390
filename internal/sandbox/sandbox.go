// Package sandbox implements the execution harness (spec §4.6/§4.7): the
// guard-page-backed memory region, the signal handler, the main and
// thread-created worker lifecycles, and the two-phase soft/hard timeout.
// It is the child-process body: internal/sandbox never runs in the
// top-level process — cmd/aj64jit re-execs itself into a child with a
// marker environment variable precisely so that a guest-induced signal
// only ever tears down the child, matching the teacher's own reliance on
// OS process isolation for signal safety.
package sandbox

import (
	"os"
	"time"

	"github.com/bitforge-vm/aj64jit/internal/config"
	"github.com/bitforge-vm/aj64jit/internal/disasm"
	"github.com/bitforge-vm/aj64jit/internal/hostshim"
	"github.com/bitforge-vm/aj64jit/internal/isa"
	"github.com/bitforge-vm/aj64jit/internal/jitmem"
	"github.com/bitforge-vm/aj64jit/internal/nativecall"
	"github.com/bitforge-vm/aj64jit/internal/obslog"
	"github.com/bitforge-vm/aj64jit/internal/translator"
	"github.com/bitforge-vm/aj64jit/internal/workerpool"
)

// ExitSandboxFault / ExitHardTimeout mirror spec §6's exit code table.
// Normal completion is 0 and is simply the child process's default exit
// path; the fault handler calls _exit(3) directly from C and the hard
// timeout path below calls os.Exit(1) directly, so neither constant is
// ever actually returned by RunChild — they document the two paths that
// bypass it.
const (
	ExitNormal       = 0
	ExitHardTimeout  = 1
	ExitSandboxFault = 3
)

// runState is the per-run context threaded into the hostshim indirection
// hooks (ThreadCreateFunc/ThreadJoinFunc), closing over the shared memory,
// code page, and harness config every worker of this run needs.
type runState struct {
	cfg      config.Config
	guard    *guardRegion
	codeBase uintptr
}

// RunChild executes one full translate-and-run cycle as described in
// spec §4.6, and returns the process exit code the caller should use —
// except along the hard-timeout path, which calls os.Exit itself, and the
// sandbox-fault path, which is handled entirely in C and never returns to
// Go at all.
func RunChild(prog *isa.Program, cfg config.Config, payloadPath string) int {
	nativecall.InstallFaultHandler()

	guard, err := newGuardRegion(prog.Header.DataSize, prog.Header.InitialDataSize, prog.InitialData)
	if err != nil {
		obslog.Crit(obslog.ModSandbox, "failed to set up guard region", "err", err)
	}
	defer guard.release()

	if payloadPath != "" {
		f, err := os.OpenFile(payloadPath, os.O_RDWR, 0o644)
		if err != nil {
			obslog.Crit(obslog.ModSandbox, "failed to open payload file", "path", payloadPath, "err", err)
		}
		defer f.Close()
		hostshim.SetPayloadFile(f)
	}

	instrs, err := disasm.Decode(prog.Code)
	if err != nil {
		obslog.Crit(obslog.ModSandbox, "bytecode decode failed", "err", err)
	}

	hf := nativecall.ResolveHostFuncs()
	result, err := translator.Translate(instrs, hf)
	if err != nil {
		obslog.Crit(obslog.ModSandbox, "translation failed", "err", err)
	}

	page, err := jitmem.Finalize(result.Code)
	if err != nil {
		obslog.Crit(obslog.ModSandbox, "code finalization failed", "err", err)
	}

	rs := &runState{cfg: cfg, guard: guard, codeBase: page.Base()}
	installThreadHooks(rs)

	var zeroRegs [isa.NumRegisters]uint64
	main := workerpool.NewWorker(guard.mem, page.Base(), uint64(result.EntryOffset), zeroRegs)
	workerpool.Register(main)
	defer workerpool.Unregister(main.ID)

	runWorker(rs, main)
	<-main.Done

	return ExitNormal
}

// runWorker launches the generated function on an OS-thread-bound
// goroutine and enforces the two-phase soft/hard timeout described in
// spec §4.7: on soft expiry it sets should_stop so the sleep shim's
// cooperative cancellation point can terminate the guest; on hard expiry,
// if the worker is still alive, the whole process exits with status 1.
func runWorker(rs *runState, w *workerpool.Worker) {
	go func() {
		rc := nativecall.Run(w.CodeBase, w.Memory, &w.Regs, w.Entry, w.ID, rs.cfg.StackSize)
		w.Done <- rc
	}()

	// Done carries a single value; put it back after reading so RunChild
	// and thread_join, which also wait on Done, still receive it.
	select {
	case rc := <-w.Done:
		w.Done <- rc
		return
	case <-time.After(rs.cfg.SoftTimeout):
	}

	w.ShouldStop.Store(true)
	obslog.Warn(obslog.ModSandbox, "soft timeout expired, cooperative cancellation armed", "worker", w.ID)

	select {
	case rc := <-w.Done:
		w.Done <- rc
		return
	case <-time.After(rs.cfg.HardTimeout - rs.cfg.SoftTimeout):
	}

	obslog.Error(obslog.ModSandbox, "hard timeout expired, terminating process", "worker", w.ID)
	os.Stdout.Sync()
	os.Exit(ExitHardTimeout)
}

// installThreadHooks wires hostshim's indirection points to this run's
// actual thread-create/thread-join behavior, per spec §4.7: a child
// worker snapshots the parent's register file and shares the parent's
// memory and JIT function pointer, then runs immediately.
func installThreadHooks(rs *runState) {
	hostshim.ThreadCreateFunc = func(entryNativeIndex uint64) uint64 {
		parent, ok := hostshim.CurrentWorkerFunc()
		if !ok {
			obslog.Error(obslog.ModHostshim, "thread_create called with no resolvable parent worker")
			return 0
		}
		child := workerpool.NewWorker(parent.Memory, rs.codeBase, entryNativeIndex, parent.Regs)
		workerpool.Register(child)
		obslog.Debug(obslog.ModSandbox, "spawned worker", "id", child.ID, "entry", entryNativeIndex, "parent", parent.ID)

		go func() {
			defer workerpool.Unregister(child.ID)
			runWorker(rs, child)
		}()
		return child.ID
	}

	hostshim.ThreadJoinFunc = func(tid uint64) {
		w, ok := workerpool.Lookup(tid)
		if !ok {
			return // already exited
		}
		<-w.Done
	}
}
