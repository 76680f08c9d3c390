// Package hostshim implements the guest-visible host ABI (spec §4.8): the
// ten functions generated code reaches via HostCallWithOps/BLR. The cgo
// //export boundary that makes these callable from raw machine code lives
// in internal/nativecall, which is the only package that needs to know
// about C calling conventions; this package holds the actual logic so it
// stays plain, testable Go.
package hostshim

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/bitforge-vm/aj64jit/internal/obslog"
	"github.com/bitforge-vm/aj64jit/internal/workerpool"
)

var (
	stdin      = bufio.NewReader(os.Stdin)
	payload    *os.File // optional backing file for READ/WRITE; nil if none given
)

// SetPayloadFile installs the backing file file_read/file_write operate
// on. A nil file is never fatal, per spec §9's open question (ii):
// FileRead/FileWrite below treat a nil payload as a soft zero-byte file
// (reads report 0 bytes copied, writes are silently dropped) and just
// log it — the absence only matters locally, to the one host call that
// needed the file, never at harness setup.
func SetPayloadFile(f *os.File) { payload = f }

// CurrentWorkerFunc resolves the worker whose OS thread is making this
// host call. internal/nativecall installs this once it knows how to read
// its own thread-local worker-id slot, breaking what would otherwise be
// an import cycle (nativecall depends on hostshim for the call targets).
var CurrentWorkerFunc func() (*workerpool.Worker, bool)

func currentWorker() *workerpool.Worker {
	if CurrentWorkerFunc == nil {
		return nil
	}
	w, ok := CurrentWorkerFunc()
	if !ok {
		return nil
	}
	return w
}

// PrintValue writes v to the host output stream, serialized on the
// process-wide stdout mutex.
func PrintValue(v uint64) {
	workerpool.StdoutMu.Lock()
	defer workerpool.StdoutMu.Unlock()
	fmt.Println(int64(v))
}

// ReadValue reads one decimal integer from the host input stream.
func ReadValue() uint64 {
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return 0
	}
	var v int64
	fmt.Sscanf(line, "%d", &v)
	return uint64(v)
}

// TerminateFunc is installed by internal/nativecall: it performs the
// nonlocal unwind back to the calling worker's landmark. Indirected the
// same way CurrentWorkerFunc is, to keep this package cgo-free.
var TerminateFunc func()

// Terminate never returns from the JIT's point of view.
func Terminate() {
	if TerminateFunc != nil {
		TerminateFunc()
	}
}

// ThreadCreateFunc is installed by the execution harness (internal/sandbox):
// given the entry native index, it spawns a worker sharing the caller's
// memory and JIT function, snapshotting the caller's registers, and
// returns its new id. Indirected to avoid hostshim depending on sandbox.
var ThreadCreateFunc func(entryNativeIndex uint64) uint64

func ThreadCreate(entryNativeIndex uint64) uint64 {
	if ThreadCreateFunc == nil {
		obslog.Error(obslog.ModHostshim, "thread_create called with no harness installed")
		return 0
	}
	return ThreadCreateFunc(entryNativeIndex)
}

// ThreadJoinFunc is installed by internal/sandbox; see ThreadCreateFunc.
var ThreadJoinFunc func(tid uint64)

func ThreadJoin(tid uint64) {
	if ThreadJoinFunc != nil {
		ThreadJoinFunc(tid)
	}
}

// ThreadSleep blocks for ms milliseconds, unless the calling worker's
// should_stop flag is set, in which case it terminates instead — the
// cooperative cancellation point spec §4.7/§5 requires.
func ThreadSleep(ms uint64) {
	w := currentWorker()
	if w != nil && w.ShouldStop.Load() {
		Terminate()
		return
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func ThreadLock(id uint64)   { workerpool.Lock(id) }
func ThreadUnlock(id uint64) { workerpool.Unlock(id) }

// FileRead reads n bytes at file offset ofs into the calling worker's
// sandbox memory at guest address dstAddr, returning the number of bytes
// actually read.
func FileRead(ofs, n, dstAddr uint64) uint64 {
	w := currentWorker()
	if w == nil || payload == nil {
		obslog.Error(obslog.ModHostshim, "file_read with no worker or payload file")
		return 0
	}
	buf := make([]byte, n)
	read, err := payload.ReadAt(buf, int64(ofs))
	if read <= 0 {
		if err != nil {
			obslog.Warn(obslog.ModHostshim, "file_read error", "err", err)
		}
		return 0
	}
	end := dstAddr + uint64(read)
	if end > uint64(len(w.Memory)) {
		end = uint64(len(w.Memory))
		read = int(end - dstAddr)
	}
	copy(w.Memory[dstAddr:end], buf[:read])
	return uint64(read)
}

// FileWrite writes n bytes from the calling worker's sandbox memory at
// guest address srcAddr into the payload file at offset ofs.
func FileWrite(ofs, n, srcAddr uint64) {
	w := currentWorker()
	if w == nil || payload == nil {
		obslog.Error(obslog.ModHostshim, "file_write with no worker or payload file")
		return
	}
	end := srcAddr + n
	if end > uint64(len(w.Memory)) {
		end = uint64(len(w.Memory))
	}
	if end <= srcAddr {
		return
	}
	if _, err := payload.WriteAt(w.Memory[srcAddr:end], int64(ofs)); err != nil {
		obslog.Warn(obslog.ModHostshim, "file_write error", "err", err)
	}
}
