// Package disasm decodes the bit-packed guest code section into a flat
// Instruction list. It performs no semantic validation — arity and operand
// checks are the translator's job (internal/translator) — only syntactic
// decoding of the opcode table and its operand encodings.
package disasm

import (
	"fmt"

	"github.com/bitforge-vm/aj64jit/internal/bitstream"
	"github.com/bitforge-vm/aj64jit/internal/isa"
)

type opcodeEntry struct {
	bits int
	val  uint64
	op   isa.Op
}

// opcodeTable is prefix-free; entries are tried shortest-first per length
// bucket below, matching the spec's "read up to 6 bits BE" description.
var opcodeTable = []opcodeEntry{
	{3, 0b000, isa.MOV},
	{3, 0b001, isa.LOADCONST},
	{4, 0b1100, isa.CALL},
	{4, 0b1101, isa.RET},
	{4, 0b1110, isa.LOCK},
	{4, 0b1111, isa.UNLOCK},
	{5, 0b01100, isa.COMPARE},
	{5, 0b01101, isa.JUMP},
	{5, 0b01110, isa.JUMPEQ},
	{5, 0b10000, isa.READ},
	{5, 0b10001, isa.WRITE},
	{5, 0b10010, isa.CONSOLEREAD},
	{5, 0b10011, isa.CONSOLEWRITE},
	{5, 0b10100, isa.CREATETHREAD},
	{5, 0b10101, isa.JOINTHREAD},
	{5, 0b10110, isa.HLT},
	{5, 0b10111, isa.SLEEP},
	{6, 0b010001, isa.ADD},
	{6, 0b010010, isa.SUB},
	{6, 0b010011, isa.DIV},
	{6, 0b010100, isa.MOD},
	{6, 0b010101, isa.MUL},
}

var memSizeForSS = [4]uint8{1, 2, 4, 8}

// Decode parses code into a sequence of Instructions. Per the spec, any
// unknown opcode sequence or short read simply ends decoding; the
// already-decoded prefix is returned together with a non-nil error so the
// caller can decide whether a partial decode is acceptable (it never is
// for this translator, which treats it as fatal).
func Decode(code []byte) ([]isa.Instruction, error) {
	r := bitstream.NewReader(code)
	var out []isa.Instruction
	for r.Remaining() > 0 {
		start := r.BitPos()
		op, err := readOpcode(r)
		if err != nil {
			return out, fmt.Errorf("disasm: at bit %d: %w", start, err)
		}
		args, err := readArgs(r, op)
		if err != nil {
			return out, fmt.Errorf("disasm: at bit %d (%s): %w", start, op, err)
		}
		out = append(out, isa.Instruction{BitOffset: start, Opcode: op, Args: args})
	}
	return out, nil
}

func readOpcode(r *bitstream.Reader) (isa.Op, error) {
	for _, bucketLen := range []int{3, 4, 5, 6} {
		v, ok := r.PeekBitsBE(bucketLen)
		if !ok {
			break
		}
		for _, e := range opcodeTable {
			if e.bits == bucketLen && e.val == v {
				r.Advance(bucketLen)
				return e.op, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown opcode bit sequence")
}

func readDataArg(r *bitstream.Reader) (isa.Operand, error) {
	flag, err := r.ReadBitsBE(1)
	if err != nil {
		return isa.Operand{}, err
	}
	if flag == 0 {
		reg, err := r.ReadBitsLE(4)
		if err != nil {
			return isa.Operand{}, err
		}
		return isa.Reg(uint8(reg)), nil
	}
	ss, err := r.ReadBitsLE(2)
	if err != nil {
		return isa.Operand{}, err
	}
	reg, err := r.ReadBitsLE(4)
	if err != nil {
		return isa.Operand{}, err
	}
	return isa.Mem(uint8(reg), memSizeForSS[ss]), nil
}

func readDataArgs(r *bitstream.Reader, n int) ([]isa.Operand, error) {
	args := make([]isa.Operand, n)
	for i := 0; i < n; i++ {
		a, err := readDataArg(r)
		if err != nil {
			return nil, err
		}
		args[i] = a
	}
	return args, nil
}

func readBitAddr32(r *bitstream.Reader) (isa.Operand, error) {
	v, err := r.ReadBitsLE(32)
	if err != nil {
		return isa.Operand{}, err
	}
	return isa.Addr(uint32(v)), nil
}

func readArgs(r *bitstream.Reader, op isa.Op) ([]isa.Operand, error) {
	switch op {
	case isa.LOADCONST:
		v, err := r.ReadBitsLE(64)
		if err != nil {
			return nil, err
		}
		dst, err := readDataArg(r)
		if err != nil {
			return nil, err
		}
		return []isa.Operand{isa.Const(int64(v)), dst}, nil
	case isa.JUMP, isa.CALL:
		a, err := readBitAddr32(r)
		if err != nil {
			return nil, err
		}
		return []isa.Operand{a}, nil
	case isa.JUMPEQ:
		a, err := readBitAddr32(r)
		if err != nil {
			return nil, err
		}
		rest, err := readDataArgs(r, 2)
		if err != nil {
			return nil, err
		}
		return append([]isa.Operand{a}, rest...), nil
	case isa.CREATETHREAD:
		a, err := readBitAddr32(r)
		if err != nil {
			return nil, err
		}
		reg, err := readDataArg(r)
		if err != nil {
			return nil, err
		}
		return []isa.Operand{a, reg}, nil
	case isa.MOV:
		return readDataArgs(r, 2)
	case isa.ADD, isa.SUB, isa.DIV, isa.MOD, isa.MUL, isa.COMPARE:
		return readDataArgs(r, 3)
	case isa.READ:
		return readDataArgs(r, 4)
	case isa.WRITE:
		return readDataArgs(r, 3)
	case isa.CONSOLEREAD, isa.CONSOLEWRITE, isa.JOINTHREAD, isa.SLEEP, isa.LOCK, isa.UNLOCK:
		return readDataArgs(r, 1)
	case isa.HLT, isa.RET:
		return nil, nil
	default:
		return nil, fmt.Errorf("unhandled opcode %s", op)
	}
}
