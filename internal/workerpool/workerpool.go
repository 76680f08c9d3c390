// Package workerpool is the process-wide thread registry and lock table
// described in spec §3/§4.7: a monotonic-id-keyed map of live workers, a
// lazily-created map of named mutexes, and the stdout mutex every host
// shim writer serializes on. Grounded on the teacher's worker bookkeeping
// idiom in pvm/recompiler_sandbox.go (one execution context per run),
// widened here to one context per guest thread sharing one run's
// sandbox memory.
package workerpool

import (
	"sync"
	"sync/atomic"

	"github.com/bitforge-vm/aj64jit/internal/isa"
	"github.com/bitforge-vm/aj64jit/internal/obslog"
)

// Worker is one guest thread's execution context: its own register file,
// a shared view of the run's sandbox memory, and the entry point to
// (re-)enter the shared JIT function at.
type Worker struct {
	ID     uint64
	Regs   [isa.NumRegisters]uint64
	Memory []byte // shared by reference across all workers of one run

	CodeBase uintptr // address of the first instruction of the shared JIT function
	Entry    uint64  // native index to start at; re-entrant per thread_create

	ShouldStop atomic.Bool
	Done       chan int32 // run() exit code, per spec §4.7: 0 normal, 1 terminated
}

var (
	mu       sync.Mutex
	workers  = make(map[uint64]*Worker)
	nextID   uint64
)

// NewWorker allocates a worker with the next monotonic id but does not
// register it; callers register for the span between thread start and
// thread exit per spec §3.
func NewWorker(memory []byte, codeBase uintptr, entry uint64, regs [isa.NumRegisters]uint64) *Worker {
	id := atomic.AddUint64(&nextID, 1)
	return &Worker{
		ID:       id,
		Regs:     regs,
		Memory:   memory,
		CodeBase: codeBase,
		Entry:    entry,
		Done:     make(chan int32, 1),
	}
}

// Register adds w to the process-wide registry.
func Register(w *Worker) {
	mu.Lock()
	workers[w.ID] = w
	mu.Unlock()
}

// Unregister removes w from the registry; called at thread exit.
func Unregister(id uint64) {
	mu.Lock()
	delete(workers, id)
	mu.Unlock()
}

// Lookup finds a live worker by id.
func Lookup(id uint64) (*Worker, bool) {
	mu.Lock()
	defer mu.Unlock()
	w, ok := workers[id]
	return w, ok
}

// StdoutMu is the single process-wide mutex every host shim that touches
// standard output serializes on (spec §4.8), so multi-worker traces stay
// interleaved at line granularity.
var StdoutMu sync.Mutex

// lockEntry pairs a named mutex with whether it is currently held, so
// Unlock can tell a plain double-unlock apart from a real Unlock without
// ever calling sync.Mutex.Unlock on an already-unlocked mutex (which
// panics rather than returning an error).
type lockEntry struct {
	mu   sync.Mutex
	held bool
}

// lockTable holds the lazily-created, id-keyed mutexes LOCK/UNLOCK
// operate on.
var (
	lockTableMu sync.Mutex
	lockTable   = make(map[uint64]*lockEntry)
)

func namedLock(id uint64) *lockEntry {
	lockTableMu.Lock()
	defer lockTableMu.Unlock()
	e, ok := lockTable[id]
	if !ok {
		e = &lockEntry{}
		lockTable[id] = e
	}
	return e
}

// Lock blocks on the mutex named id, creating it on first use.
func Lock(id uint64) {
	e := namedLock(id)
	e.mu.Lock()
	lockTableMu.Lock()
	e.held = true
	lockTableMu.Unlock()
}

// Unlock unlocks the mutex named id. Unlocking an unknown id, or an id
// that is known but not currently held (a double-unlock), is a logged
// warning, not a fault, per spec §4.7/§7.
func Unlock(id uint64) {
	lockTableMu.Lock()
	e, ok := lockTable[id]
	if !ok || !e.held {
		lockTableMu.Unlock()
		obslog.Warn(obslog.ModWorkerpool, "unlock of unknown or unheld lock id", "id", id)
		return
	}
	e.held = false
	lockTableMu.Unlock()
	e.mu.Unlock()
}
