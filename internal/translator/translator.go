// Package translator performs the single pass over decoded guest
// instructions that produces native code: the label-kind pre-scan, the
// per-opcode dispatch into internal/builder calls, fixup bookkeeping, and
// the final patch-and-finalize step. This mirrors the teacher's main
// compile loop (recompiler.go) generalized from the teacher's own fixed
// guest ISA to this project's guest ISA (internal/isa).
package translator

import (
	"fmt"

	"github.com/bitforge-vm/aj64jit/internal/builder"
	"github.com/bitforge-vm/aj64jit/internal/isa"
	"github.com/bitforge-vm/aj64jit/internal/obslog"
)

// LabelKind tags an address reached by JUMPEQ/JUMP (Jump) or by CALL
// (Call). An address may carry at most one kind.
type LabelKind int

const (
	labelNone LabelKind = iota
	LabelJump
	LabelCall
)

// HostFuncs holds the resolved native addresses of the host ABI shims
// (internal/hostshim), materialized into generated code via
// HostCallWithOps. Populated once per execution harness run by
// internal/nativecall.
type HostFuncs struct {
	PrintValue    uint64
	ReadValue     uint64
	Terminate     uint64
	ThreadCreate  uint64
	ThreadJoin    uint64
	ThreadSleep   uint64
	ThreadLock    uint64
	ThreadUnlock  uint64
	FileRead      uint64
	FileWrite     uint64
}

// fixup is a (site, target) pair resolved after all code has been emitted.
// A thread-create fixup patches a MOVZ immediate rather than a branch
// displacement, but shares the same bookkeeping shape.
type fixup struct {
	nativeIndex int
	targetBit   uint32
}

// Result is everything the execution harness needs after a successful
// translation.
type Result struct {
	Code        []uint32
	EntryOffset int
	BitToNative map[uint32]int
}

// Translate runs the full translator pipeline over a decoded instruction
// list and a resolved host function table.
func Translate(instrs []isa.Instruction, hf HostFuncs) (*Result, error) {
	SetHostFuncs(hf)
	labelKind, err := scanLabelKinds(instrs)
	if err != nil {
		return nil, err
	}

	b := builder.New()
	bitToNative := make(map[uint32]int, len(instrs))
	var fixups []fixup
	var threadCreateFixups []fixup

	for _, inst := range instrs {
		bitToNative[inst.BitOffset] = b.CurrentIndex()
		if labelKind[inst.BitOffset] == LabelCall {
			b.FuncPrologue()
		}

		fx, tcfx, err := emit(b, inst)
		if err != nil {
			return nil, fmt.Errorf("translator: at bit %d (%s): %w", inst.BitOffset, inst.Opcode, err)
		}
		fixups = append(fixups, fx...)
		threadCreateFixups = append(threadCreateFixups, tcfx...)

		emitNop(b)
	}

	b.End()

	for _, fx := range fixups {
		target, ok := bitToNative[fx.targetBit]
		if !ok {
			return nil, fmt.Errorf("translator: fixup at native index %d targets unresolved bit-offset %d", fx.nativeIndex, fx.targetBit)
		}
		if err := b.PatchBranchOrImm(fx.nativeIndex, target); err != nil {
			return nil, fmt.Errorf("translator: patching fixup at %d: %w", fx.nativeIndex, err)
		}
	}
	for _, fx := range threadCreateFixups {
		target, ok := bitToNative[fx.targetBit]
		if !ok {
			return nil, fmt.Errorf("translator: thread-create fixup targets unresolved bit-offset %d", fx.targetBit)
		}
		if err := b.PatchBranchOrImm(fx.nativeIndex, target); err != nil {
			return nil, fmt.Errorf("translator: patching thread-create fixup: %w", err)
		}
	}

	obslog.Debug(obslog.ModTranslator, "translated program", "instructions", len(instrs), "words", len(b.Code))

	return &Result{Code: b.Code, EntryOffset: b.EntryOffset, BitToNative: bitToNative}, nil
}

func emitNop(b *builder.Builder) {
	b.Code = append(b.Code, nopWord)
}

const nopWord = 0xD503201F // copy of arm64enc.NOP; value must match

// scanLabelKinds implements spec §4.4's pre-scan: every JUMP/JUMPEQ target
// is tagged Jump, every CALL target is tagged Call; an address tagged both
// ways is a fatal program error, because a jump into a function prologue
// would push a spurious frame.
func scanLabelKinds(instrs []isa.Instruction) (map[uint32]LabelKind, error) {
	kind := make(map[uint32]LabelKind)
	mark := func(addr uint32, k LabelKind) error {
		existing, ok := kind[addr]
		if ok && existing != k {
			return fmt.Errorf("translator: bit-offset %d is both a Jump and a Call target", addr)
		}
		kind[addr] = k
		return nil
	}
	for _, inst := range instrs {
		switch inst.Opcode {
		case isa.JUMP:
			if err := mark(inst.Args[0].Addr, LabelJump); err != nil {
				return nil, err
			}
		case isa.JUMPEQ:
			if err := mark(inst.Args[0].Addr, LabelJump); err != nil {
				return nil, err
			}
		case isa.CALL:
			if err := mark(inst.Args[0].Addr, LabelCall); err != nil {
				return nil, err
			}
		}
	}
	return kind, nil
}

// emit dispatches one decoded instruction to its builder sequence per the
// table in spec §4.4, returning any branch/jump/call fixups and any
// thread-create-specific fixup (which patches a MOVZ rather than a branch
// displacement).
func emit(b *builder.Builder, inst isa.Instruction) (fixups []fixup, tcFixups []fixup, err error) {
	args := inst.Args
	switch inst.Opcode {
	case isa.LOADCONST:
		if err := arity(args, 2); err != nil {
			return nil, nil, err
		}
		if args[0].Kind != isa.KindConst {
			return nil, nil, fmt.Errorf("LOADCONST: expected Const source, got %v", args[0])
		}
		if _, err := b.LoadImmediate(args[1], args[0].Const); err != nil {
			return nil, nil, err
		}

	case isa.MOV:
		if err := arity(args, 2); err != nil {
			return nil, nil, err
		}
		if err := b.Mov(args[0], args[1]); err != nil {
			return nil, nil, err
		}

	case isa.ADD, isa.SUB, isa.DIV, isa.MOD, isa.MUL:
		if err := arity(args, 3); err != nil {
			return nil, nil, err
		}
		a, bb, c := args[0], args[1], args[2]
		var opErr error
		switch inst.Opcode {
		case isa.ADD:
			opErr = b.Add(c, a, bb)
		case isa.SUB:
			opErr = b.Sub(c, a, bb)
		case isa.MUL:
			opErr = b.Mul(c, a, bb)
		case isa.DIV:
			opErr = b.Div(c, a, bb)
		case isa.MOD:
			opErr = b.Mod(c, a, bb)
		}
		if opErr != nil {
			return nil, nil, opErr
		}

	case isa.COMPARE:
		if err := arity(args, 3); err != nil {
			return nil, nil, err
		}
		a, bb, c := args[0], args[1], args[2]
		if err := b.Sub(c, a, bb); err != nil {
			return nil, nil, err
		}
		if err := b.Signum(c, c); err != nil {
			return nil, nil, err
		}

	case isa.JUMPEQ:
		if err := arity(args, 3); err != nil {
			return nil, nil, err
		}
		if args[0].Kind != isa.KindAddr {
			return nil, nil, fmt.Errorf("JUMPEQ: expected Addr target, got %v", args[0])
		}
		if _, err := b.Compare(args[1], args[2]); err != nil {
			return nil, nil, err
		}
		idx := b.BranchIfEqual()
		fixups = append(fixups, fixup{nativeIndex: idx, targetBit: args[0].Addr})

	case isa.JUMP:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if args[0].Kind != isa.KindAddr {
			return nil, nil, fmt.Errorf("JUMP: expected Addr target, got %v", args[0])
		}
		idx := b.Jump()
		fixups = append(fixups, fixup{nativeIndex: idx, targetBit: args[0].Addr})

	case isa.CALL:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if args[0].Kind != isa.KindAddr {
			return nil, nil, fmt.Errorf("CALL: expected Addr target, got %v", args[0])
		}
		idx := b.Call()
		fixups = append(fixups, fixup{nativeIndex: idx, targetBit: args[0].Addr})

	case isa.RET:
		if err := arity(args, 0); err != nil {
			return nil, nil, err
		}
		b.FuncEpilogue()
		b.Ret()

	case isa.CONSOLEREAD:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.ReadValue, &args[0]); err != nil {
			return nil, nil, err
		}

	case isa.CONSOLEWRITE:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.PrintValue, nil, args[0]); err != nil {
			return nil, nil, err
		}

	case isa.HLT:
		if err := arity(args, 0); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.Terminate, nil); err != nil {
			return nil, nil, err
		}

	case isa.SLEEP:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.ThreadSleep, nil, args[0]); err != nil {
			return nil, nil, err
		}

	case isa.CREATETHREAD:
		if err := arity(args, 2); err != nil {
			return nil, nil, err
		}
		if args[0].Kind != isa.KindAddr {
			return nil, nil, fmt.Errorf("CREATETHREAD: expected Addr target, got %v", args[0])
		}
		ret := args[1]
		idx, err := b.HostCallWithOps(hostFuncs.ThreadCreate, &ret, args[0])
		if err != nil {
			return nil, nil, err
		}
		tcFixups = append(tcFixups, fixup{nativeIndex: idx, targetBit: args[0].Addr})

	case isa.JOINTHREAD:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.ThreadJoin, nil, args[0]); err != nil {
			return nil, nil, err
		}

	case isa.LOCK:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.ThreadLock, nil, args[0]); err != nil {
			return nil, nil, err
		}

	case isa.UNLOCK:
		if err := arity(args, 1); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.ThreadUnlock, nil, args[0]); err != nil {
			return nil, nil, err
		}

	case isa.READ:
		if err := arity(args, 4); err != nil {
			return nil, nil, err
		}
		ret := args[3]
		if _, err := b.HostCallWithOps(hostFuncs.FileRead, &ret, args[0], args[1], args[2]); err != nil {
			return nil, nil, err
		}

	case isa.WRITE:
		if err := arity(args, 3); err != nil {
			return nil, nil, err
		}
		if _, err := b.HostCallWithOps(hostFuncs.FileWrite, nil, args[0], args[1], args[2]); err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, fmt.Errorf("unhandled opcode %s", inst.Opcode)
	}
	return fixups, tcFixups, nil
}

func arity(args []isa.Operand, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d operands, got %d", n, len(args))
	}
	return nil
}

// hostFuncs is set by Translate, through SetHostFuncs, from its hf argument
// before any code is emitted; kept as package state (rather than threaded through emit's signature) to
// keep the per-opcode dispatch table above readable, matching the
// teacher's own use of receiver-held state for the equivalent table in
// recompiler.go.
var hostFuncs HostFuncs

// SetHostFuncs installs the resolved host ABI addresses used by emit.
// Translate calls it with its own hf argument, so a value installed here
// is replaced by the next Translate call.
func SetHostFuncs(hf HostFuncs) { hostFuncs = hf }
