package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bitforge-vm/aj64jit/internal/config"
)

// guardRegion is the 2^32 byte reservation backing one run's guest
// memory: only the page-rounded prefix covering dataSize is readable and
// writable, everything beyond PROT_NONE. Grounded on the teacher's
// NewRecompilerRam (recompiler_memory.go), generalized from a 4 GiB
// reservation to this spec's 2^32 byte one.
type guardRegion struct {
	mem []byte // the full 2^32 byte mapping
}

func pageRound(n uint64) uint64 {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}

func newGuardRegion(dataSize, initialDataSize uint32, initialData []byte) (*guardRegion, error) {
	size := config.SandboxSize
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("sandbox: reserve guard region: %w", err)
	}

	accessible := pageRound(uint64(dataSize))
	if accessible > 0 {
		if err := unix.Mprotect(mem[:accessible], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			_ = unix.Munmap(mem)
			return nil, fmt.Errorf("sandbox: mprotect data prefix: %w", err)
		}
	}

	if uint64(initialDataSize) > accessible {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("sandbox: initial data (%d bytes) exceeds accessible prefix (%d bytes)", initialDataSize, accessible)
	}
	copy(mem[:initialDataSize], initialData)

	return &guardRegion{mem: mem}, nil
}

func (g *guardRegion) release() error { return unix.Munmap(g.mem) }
