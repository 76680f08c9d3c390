// Package builder is the stateful, high-level code emitter: it turns
// guest-level operations (move, arithmetic, compare, branch, call, sized
// memory access, host-call trampolines, immediate loading, signum) into
// sequences of arm64enc words, maintains the single append-only code
// vector, and hands back builder indices for patch sites the translator
// resolves later. This generalizes the teacher's per-opcode code
// generators (recompiler.go's generateLoadImm64, generateStoreWithBase,
// etc.) from one fixed host ISA's fixed guest ISA to this project's
// {Reg, Mem, Addr, Const, None} operand abstraction.
package builder

import (
	"fmt"

	"github.com/bitforge-vm/aj64jit/internal/arm64enc"
	"github.com/bitforge-vm/aj64jit/internal/isa"
)

// Register assignments fixed by the calling convention (spec §4.3).
const (
	argMemoryBase = 0 // X0 on entry: memory_base
	argRegs       = 1 // X1 on entry: regs
	argEntry      = 2 // X2 on entry: entry

	scratchA  = 2  // first operand input
	scratchB  = 3  // second operand input
	scratchAux = 4 // auxiliary (quotient, etc.)
	scratchFn = 9  // materialized host function pointer

	mBase = 19 // preserved memory_base
	rBase = 20 // preserved regs pointer
)

// Builder accumulates one append-only vector of native words.
type Builder struct {
	Code []uint32

	// EntryOffset is the native index of the first generated-instruction
	// slot, i.e. the true length of the emitted prologue. The spec names
	// 11 as the reference value for its own prologue shape; this
	// implementation exposes its actual value instead of hard-coding 11,
	// which the spec explicitly permits ("preserve this invariant or
	// expose the true value to callers").
	EntryOffset int

	adrSiteIndex int // index of the ADR word patched once EntryOffset is known
}

// New returns a builder with the function prologue already emitted.
func New() *Builder {
	b := &Builder{}
	b.prologue()
	return b
}

func (b *Builder) emit(w uint32) int {
	idx := len(b.Code)
	b.Code = append(b.Code, w)
	return idx
}

// CurrentIndex returns the native index the next emitted word will occupy.
func (b *Builder) CurrentIndex() int { return len(b.Code) }

// prologue implements spec §4.3's three-step entry sequence: establish the
// frame, preserve memory_base/regs in callee-saved registers, then branch
// to the native index given by entry (an absolute index into Code).
func (b *Builder) prologue() {
	b.emit(arm64enc.StpPreIndex(arm64enc.FP, arm64enc.LR, arm64enc.SP, -16))
	b.emit(arm64enc.MovSP(arm64enc.FP, arm64enc.SP))
	b.emit(arm64enc.StpPreIndex(mBase, rBase, arm64enc.SP, -16))
	b.emit(arm64enc.MovReg(mBase, argMemoryBase))
	b.emit(arm64enc.MovReg(rBase, argRegs))

	b.emit(arm64enc.Lsl(scratchB, argEntry, 2)) // X3 = entry*4 (byte offset)
	// X3 -= EntryOffset*4, so the offset is relative to the ADR target below;
	// the immediate is patched once EntryOffset is known.
	subSiteIndex := b.emit(arm64enc.SubImm12(scratchB, scratchB, 0))
	b.adrSiteIndex = b.emit(arm64enc.Adr(scratchAux, 0))
	b.emit(arm64enc.AddReg(scratchAux, scratchAux, scratchB))
	b.emit(arm64enc.Br(scratchAux))

	b.EntryOffset = len(b.Code)
	// Patch the ADR now that the target (this exact point) is known: the
	// displacement from the ADR word to the first generated-instruction
	// slot, in words, converted to the byte-granular imm21 ADR expects.
	dispWords := int32(b.EntryOffset - b.adrSiteIndex)
	b.Code[b.adrSiteIndex] = arm64enc.Adr(scratchAux, dispWords*4)
	b.Code[subSiteIndex] = arm64enc.SubImm12(scratchB, scratchB, uint32(b.EntryOffset*4))
}

// End emits the function epilogue (pop scratches and frame, return) that
// terminates the whole generated function, as distinct from FuncEpilogue
// which terminates one CALL-reachable guest function body.
func (b *Builder) End() {
	b.emit(arm64enc.LdpPostIndex(mBase, rBase, arm64enc.SP, 16))
	b.emit(arm64enc.LdpPostIndex(arm64enc.FP, arm64enc.LR, arm64enc.SP, 16))
	b.emit(arm64enc.Ret(arm64enc.LR))
}

// FuncPrologue / FuncEpilogue bracket a CALL-reachable guest label with the
// two-word push / one-word pop sequence spec §4.3 requires; a JUMP-only
// target must never acquire one.
func (b *Builder) FuncPrologue() {
	b.emit(arm64enc.StpPreIndex(arm64enc.FP, arm64enc.LR, arm64enc.SP, -16))
	b.emit(arm64enc.MovSP(arm64enc.FP, arm64enc.SP))
}
func (b *Builder) FuncEpilogue() {
	b.emit(arm64enc.LdpPostIndex(arm64enc.FP, arm64enc.LR, arm64enc.SP, 16))
}
func (b *Builder) Ret() int { return b.emit(arm64enc.Ret(arm64enc.LR)) }

// loadOperand materializes op's value into scratch.
func (b *Builder) loadOperand(op isa.Operand, scratch uint32) (firstWord int, err error) {
	switch op.Kind {
	case isa.KindReg:
		idx := b.emit(arm64enc.LdrStrUnsignedImm(true, scratch, rBase, uint32(op.Reg)*8))
		return idx, nil
	case isa.KindMem:
		first := b.emit(arm64enc.LdrStrUnsignedImm(true, scratchAux, rBase, uint32(op.Reg)*8))
		b.emit(arm64enc.LdrStrRegOffsetUXTW(true, op.SizeBytes, scratch, mBase, scratchAux))
		return first, nil
	case isa.KindAddr:
		return b.loadImmediate64(scratch, int64(op.Addr)), nil
	case isa.KindConst:
		return b.loadImmediate64(scratch, op.Const), nil
	default:
		return 0, fmt.Errorf("builder: cannot load operand kind %d", op.Kind)
	}
}

// storeOperand is the symmetric counterpart of loadOperand for Reg/Mem
// destinations.
func (b *Builder) storeOperand(op isa.Operand, scratch uint32) error {
	switch op.Kind {
	case isa.KindReg:
		b.emit(arm64enc.LdrStrUnsignedImm(false, scratch, rBase, uint32(op.Reg)*8))
		return nil
	case isa.KindMem:
		b.emit(arm64enc.LdrStrUnsignedImm(true, scratchAux, rBase, uint32(op.Reg)*8))
		b.emit(arm64enc.LdrStrRegOffsetUXTW(false, op.SizeBytes, scratch, mBase, scratchAux))
		return nil
	default:
		return fmt.Errorf("builder: cannot store to operand kind %d", op.Kind)
	}
}

// loadImmediate64 emits one MOVZ followed by up to three MOVKs for the
// nonzero 16-bit slices of value, returning the index of the first (MOVZ)
// word.
func (b *Builder) loadImmediate64(reg uint32, value int64) int {
	u := uint64(value)
	first := b.emit(arm64enc.MovWide(reg, uint16(u), 0, false, true))
	for shift := uint32(16); shift < 64; shift += 16 {
		slice := uint16(u >> shift)
		if slice != 0 {
			b.emit(arm64enc.MovWide(reg, slice, shift, true, true))
		}
	}
	return first
}

// LoadImmediate loads a constant into a guest register and returns the
// builder index of the first emitted word (the MOVZ), so a caller can later
// rewrite that word's 16-bit immediate with PatchBranchOrImm. CREATETHREAD's
// fixup uses the equivalent index returned by HostCallWithOps.
func (b *Builder) LoadImmediate(dst isa.Operand, value int64) (int, error) {
	first := b.loadImmediate64(scratchA, value)
	if err := b.storeOperand(dst, scratchA); err != nil {
		return 0, err
	}
	return first, nil
}

// Mov implements MOV a, b: load a, store into b.
func (b *Builder) Mov(src, dst isa.Operand) error {
	if _, err := b.loadOperand(src, scratchA); err != nil {
		return err
	}
	return b.storeOperand(dst, scratchA)
}

type arith func(rd, rn, rm uint32) uint32

func (b *Builder) binOp(dst, a, bOp isa.Operand, op arith) error {
	if _, err := b.loadOperand(a, scratchA); err != nil {
		return err
	}
	if _, err := b.loadOperand(bOp, scratchB); err != nil {
		return err
	}
	b.emit(op(scratchA, scratchA, scratchB))
	return b.storeOperand(dst, scratchA)
}

func (b *Builder) Add(dst, a, bOp isa.Operand) error { return b.binOp(dst, a, bOp, arm64enc.AddReg) }
func (b *Builder) Sub(dst, a, bOp isa.Operand) error { return b.binOp(dst, a, bOp, arm64enc.SubReg) }
func (b *Builder) Mul(dst, a, bOp isa.Operand) error { return b.binOp(dst, a, bOp, arm64enc.Mul) }
func (b *Builder) Div(dst, a, bOp isa.Operand) error { return b.binOp(dst, a, bOp, arm64enc.Sdiv) }

// Mod implements a - (a udiv b) * b: unsigned divide for the quotient,
// multiply-subtract for the remainder. The spec calls out this asymmetry
// (DIV signed, MOD via unsigned divide) explicitly and requires it be
// preserved.
func (b *Builder) Mod(dst, a, bOp isa.Operand) error {
	if _, err := b.loadOperand(a, scratchA); err != nil {
		return err
	}
	if _, err := b.loadOperand(bOp, scratchB); err != nil {
		return err
	}
	b.emit(arm64enc.Udiv(scratchAux, scratchA, scratchB))
	b.emit(arm64enc.Msub(scratchA, scratchAux, scratchB, scratchA))
	return b.storeOperand(dst, scratchA)
}

// Compare loads a and b and subtracts to the zero register, setting
// condition flags. It returns the builder index of that word so the
// caller can assert no flag-clobbering instruction intervenes before the
// branch/cset that consumes the flags.
func (b *Builder) Compare(a, bOp isa.Operand) (int, error) {
	if _, err := b.loadOperand(a, scratchA); err != nil {
		return 0, err
	}
	if _, err := b.loadOperand(bOp, scratchB); err != nil {
		return 0, err
	}
	idx := b.emit(arm64enc.SubsToZero(scratchA, scratchB))
	return idx, nil
}

// Signum computes -1/0/+1 from src into dst: cset on GT into aux, cset on
// LT into a second scratch, then subtract.
func (b *Builder) Signum(dst, src isa.Operand) error {
	if _, err := b.loadOperand(src, scratchA); err != nil {
		return err
	}
	b.emit(arm64enc.SubsToZero(scratchA, arm64enc.XZR))
	b.emit(arm64enc.Cset(scratchAux, arm64enc.CondGT))
	b.emit(arm64enc.Cset(scratchB, arm64enc.CondLT))
	b.emit(arm64enc.SubReg(scratchA, scratchAux, scratchB))
	return b.storeOperand(dst, scratchA)
}

// BranchIfEqual emits a conditional branch with a zero placeholder
// displacement and returns its builder index for later patching.
func (b *Builder) BranchIfEqual() int { return b.emit(arm64enc.BCond(arm64enc.CondEQ, 0)) }

// Jump / Call emit their unconditional forms with zero placeholder
// displacements, returning the builder index for later patching.
func (b *Builder) Jump() int { return b.emit(arm64enc.B(0)) }
func (b *Builder) Call() int { return b.emit(arm64enc.Bl(0)) }

// HostCallWithOps loads up to four operands into argument registers
// X0..X3, materializes funcPtr into the host-function-pointer scratch,
// branches with link to it, and (if ret is non-nil) stores X0 into ret.
// It returns the builder index of the first emitted load, which is the
// MOVZ materializing ops[0]'s value when ops[0] is an Addr — the slot
// CREATETHREAD's fixup patches.
func (b *Builder) HostCallWithOps(funcPtr uint64, ret *isa.Operand, ops ...isa.Operand) (int, error) {
	if len(ops) > 4 {
		return 0, fmt.Errorf("builder: host call takes at most 4 operands, got %d", len(ops))
	}
	firstWord := -1
	for i, op := range ops {
		idx, err := b.loadOperand(op, uint32(i))
		if err != nil {
			return 0, err
		}
		if firstWord == -1 {
			firstWord = idx
		}
	}
	fnFirst := b.loadImmediate64(scratchFn, int64(funcPtr))
	if firstWord == -1 {
		firstWord = fnFirst
	}
	b.emit(arm64enc.Blr(scratchFn))
	if ret != nil {
		if err := b.storeOperand(*ret, 0); err != nil {
			return 0, err
		}
	}
	return firstWord, nil
}

// isMovz, isBCond, isB and isBl are used by PatchBranchOrImm to classify
// the word at a patch site.
func isMovz(w uint32) bool {
	return (w>>29)&0x3 == 0b10 && (w>>23)&0x3F == 0b100101
}
func isBCond(w uint32) bool { return (w >> 24) == 0b01010100 }
func isB(w uint32) bool     { return (w >> 26) == 0b000101 }
func isBl(w uint32) bool    { return (w >> 26) == 0b100101 }

// PatchBranchOrImm rewrites the word at native index at so that it targets
// native index target, per spec §4.3: MOVZ gets its 16-bit immediate
// field overwritten (asserting target < 65536); B.cond gets its 19-bit
// displacement; B/BL get their 26-bit displacement. Displacements are in
// units of 32-bit instructions, relative to the word being patched.
func (b *Builder) PatchBranchOrImm(at int, target int) error {
	if at < 0 || at >= len(b.Code) {
		return fmt.Errorf("builder: patch site %d out of range (len=%d)", at, len(b.Code))
	}
	w := b.Code[at]
	switch {
	case isMovz(w):
		if target >= 65536 {
			return fmt.Errorf("builder: thread-create target %d does not fit in 16 bits", target)
		}
		rd := w & 0x1F
		sf := (w >> 31) & 1
		b.Code[at] = (sf << 31) | (0b10 << 29) | (0b100101 << 23) | (uint32(target) << 5) | rd
	case isBCond(w):
		disp := int32(target - at)
		cond := w & 0xF
		b.Code[at] = (0b01010100 << 24) | ((uint32(disp) & 0x7FFFF) << 5) | cond
	case isB(w):
		disp := int32(target - at)
		b.Code[at] = (0b000101 << 26) | (uint32(disp) & 0x3FFFFFF)
	case isBl(w):
		disp := int32(target - at)
		b.Code[at] = (0b100101 << 26) | (uint32(disp) & 0x3FFFFFF)
	default:
		return fmt.Errorf("builder: word at %d (0x%08X) is not a recognized patch site", at, w)
	}
	return nil
}

// HasFuncPrologueAt reports whether the two-word function prologue
// sequence begins at index idx, used by tests asserting the
// CALL-target/JUMP-target invariant.
func (b *Builder) HasFuncPrologueAt(idx int) bool {
	if idx+1 >= len(b.Code) {
		return false
	}
	want0 := arm64enc.StpPreIndex(arm64enc.FP, arm64enc.LR, arm64enc.SP, -16)
	want1 := arm64enc.MovSP(arm64enc.FP, arm64enc.SP)
	return b.Code[idx] == want0 && b.Code[idx+1] == want1
}
