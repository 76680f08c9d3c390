package hostshim

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitforge-vm/aj64jit/internal/workerpool"
)

func withWorker(t *testing.T, w *workerpool.Worker) func() {
	t.Helper()
	prev := CurrentWorkerFunc
	CurrentWorkerFunc = func() (*workerpool.Worker, bool) { return w, true }
	return func() { CurrentWorkerFunc = prev }
}

func TestThreadSleepSleepsWhenNotCancelled(t *testing.T) {
	start := time.Now()
	ThreadSleep(5)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestThreadSleepTerminatesWhenShouldStopIsSet(t *testing.T) {
	w := workerpool.NewWorker(nil, 0, 0, [16]uint64{})
	w.ShouldStop.Store(true)
	restore := withWorker(t, w)
	defer restore()

	terminated := false
	prevTerm := TerminateFunc
	TerminateFunc = func() { terminated = true }
	defer func() { TerminateFunc = prevTerm }()

	start := time.Now()
	ThreadSleep(1000)
	assert.True(t, terminated, "expected ThreadSleep to call Terminate when ShouldStop is set")
	assert.Less(t, time.Since(start), 100*time.Millisecond, "ThreadSleep should return immediately on cancellation")
}

func TestThreadCreateWithNoHarnessInstalledReturnsZero(t *testing.T) {
	prev := ThreadCreateFunc
	ThreadCreateFunc = nil
	defer func() { ThreadCreateFunc = prev }()

	assert.Zero(t, ThreadCreate(123))
}

func TestThreadCreateDelegatesToInstalledFunc(t *testing.T) {
	prev := ThreadCreateFunc
	ThreadCreateFunc = func(entry uint64) uint64 {
		assert.EqualValues(t, 99, entry)
		return 7
	}
	defer func() { ThreadCreateFunc = prev }()

	assert.EqualValues(t, 7, ThreadCreate(99))
}

func TestThreadJoinWithNoFuncInstalledDoesNotBlock(t *testing.T) {
	prev := ThreadJoinFunc
	ThreadJoinFunc = nil
	defer func() { ThreadJoinFunc = prev }()
	assert.NotPanics(t, func() { ThreadJoin(42) })
}

func TestThreadLockUnlockDelegatesToWorkerpool(t *testing.T) {
	const id = 0xF00D
	ThreadLock(id)
	unlocked := make(chan struct{})
	go func() {
		ThreadUnlock(id)
		close(unlocked)
	}()
	<-unlocked
}

func TestFileReadWithNoPayloadReturnsZero(t *testing.T) {
	w := workerpool.NewWorker(make([]byte, 16), 0, 0, [16]uint64{})
	restore := withWorker(t, w)
	defer restore()
	SetPayloadFile(nil)

	assert.Zero(t, FileRead(0, 4, 0))
}

func TestFileReadCopiesIntoSandboxMemory(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "payload")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte{0xAA, 0xBB, 0xCC, 0xDD}, 0)
	require.NoError(t, err)
	SetPayloadFile(f)
	defer SetPayloadFile(nil)

	mem := make([]byte, 16)
	w := workerpool.NewWorker(mem, 0, 0, [16]uint64{})
	restore := withWorker(t, w)
	defer restore()

	n := FileRead(0, 4, 8)
	require.EqualValues(t, 4, n)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, mem[8:12])
}

func TestFileReadClampsToSandboxMemoryBounds(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "payload")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte{1, 2, 3, 4, 5, 6}, 0)
	require.NoError(t, err)
	SetPayloadFile(f)
	defer SetPayloadFile(nil)

	mem := make([]byte, 4)
	w := workerpool.NewWorker(mem, 0, 0, [16]uint64{})
	restore := withWorker(t, w)
	defer restore()

	n := FileRead(0, 6, 2) // would run off the end of a 4-byte sandbox at offset 2
	assert.EqualValues(t, 2, n)
}

func TestFileWriteWithNoPayloadIsANoop(t *testing.T) {
	w := workerpool.NewWorker(make([]byte, 16), 0, 0, [16]uint64{})
	restore := withWorker(t, w)
	defer restore()
	SetPayloadFile(nil)
	assert.NotPanics(t, func() { FileWrite(0, 4, 0) })
}

func TestFileWritePersistsSandboxBytesToPayload(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "payload")
	require.NoError(t, err)
	defer f.Close()
	SetPayloadFile(f)
	defer SetPayloadFile(nil)

	mem := make([]byte, 16)
	copy(mem[4:8], []byte{9, 8, 7, 6})
	w := workerpool.NewWorker(mem, 0, 0, [16]uint64{})
	restore := withWorker(t, w)
	defer restore()

	FileWrite(0, 4, 4)

	got := make([]byte, 4)
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, got)
}

func TestFileWriteClampsToSandboxMemoryBounds(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "payload")
	require.NoError(t, err)
	defer f.Close()
	SetPayloadFile(f)
	defer SetPayloadFile(nil)

	mem := make([]byte, 4)
	w := workerpool.NewWorker(mem, 0, 0, [16]uint64{})
	restore := withWorker(t, w)
	defer restore()

	assert.NotPanics(t, func() { FileWrite(0, 100, 2) }) // srcAddr+n far exceeds the 4-byte sandbox
}
