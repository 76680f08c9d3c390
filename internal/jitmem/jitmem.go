// Package jitmem finalizes a vector of native words into an executable,
// write-protected (W^X) page: allocate an anonymous RW mapping, copy the
// code, mprotect to RX, flush the instruction cache. The mapping is not
// requested with a MAP_JIT flag. Grounded on the teacher's direct use of
// golang.org/x/sys/unix for mmap/mprotect in recompiler_memory.go's
// NewRecompilerRam, applied here to a code page instead of a data region.
package jitmem

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/sys/unix"

	"github.com/bitforge-vm/aj64jit/internal/obslog"
)

// CodePage is a finalized, published block of executable native code. The
// code must never be mutated through Go slices after Finalize returns —
// the underlying pages are read+execute only, matching W^X.
type CodePage struct {
	base []byte // mmap'd region, len == page-rounded size
	size int    // bytes actually holding instructions
}

// Base returns the address of the first instruction, for use as the
// callable function pointer handed to internal/nativecall.
func (p *CodePage) Base() uintptr { return uintptr(unsafe.Pointer(&p.base[0])) }

// Release unmaps the code page. Only safe once no worker can still be
// executing inside it.
func (p *CodePage) Release() error {
	return unix.Munmap(p.base)
}

func pageRound(n int) int {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// Finalize copies words into a fresh RW page, switches it to RX, and
// invalidates the instruction cache over the published range. A failure
// at any mmap/mprotect step is fatal to the translator per spec §4.5.
func Finalize(words []uint32) (*CodePage, error) {
	byteLen := len(words) * 4
	size := pageRound(byteLen)
	if size == 0 {
		size = pageRound(4)
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("jitmem: mmap code page: %w", err)
	}

	for i, w := range words {
		binary.LittleEndian.PutUint32(mem[i*4:i*4+4], w)
	}

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("jitmem: mprotect RX: %w", err)
	}

	flushICache(mem)

	obslog.Debug(obslog.ModJitmem, "finalized code page", "words", len(words), "bytes", size)
	if obslog.Root().Enabled(context.Background(), obslog.LevelTrace) {
		obslog.Trace(obslog.ModJitmem, "generated native code", "asm", Disassemble(mem[:byteLen]))
	}
	return &CodePage{base: mem, size: byteLen}, nil
}

// Disassemble renders code as GNU-syntax ARM64 assembly, one line per
// instruction, for trace logging. Grounded on the teacher's own
// Disassemble in pvm/recompiler.go, which walks generated x86 bytes
// through x86asm.Decode the same way this walks generated arm64 words
// through arm64asm.Decode.
func Disassemble(code []byte) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		inst, err := arm64asm.Decode(code[offset:])
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: .word 0x%08x\n", offset, binary.LittleEndian.Uint32(code[offset:offset+4])))
			offset += 4
			continue
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %08x  %s\n", offset, binary.LittleEndian.Uint32(code[offset:offset+4]), inst.String()))
		offset += 4
	}
	return sb.String()
}
