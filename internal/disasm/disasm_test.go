package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitforge-vm/aj64jit/internal/isa"
)

// bitWriter is a tiny MSB-first bit packer, the write-side mirror of
// bitstream.Reader, used only to build fixture bytes for these tests.
type bitWriter struct {
	bytes []byte
	cur   byte
	nbits int
}

func (w *bitWriter) writeBit(b uint64) {
	w.cur = (w.cur << 1) | byte(b&1)
	w.nbits++
	if w.nbits == 8 {
		w.bytes = append(w.bytes, w.cur)
		w.cur, w.nbits = 0, 0
	}
}

func (w *bitWriter) writeBE(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> i) & 1)
	}
}

func (w *bitWriter) writeLE(v uint64, n int) {
	for i := 0; i < n; i++ {
		w.writeBit((v >> i) & 1)
	}
}

func (w *bitWriter) finish() []byte {
	for w.nbits != 0 {
		w.writeBit(0)
	}
	return w.bytes
}

// decodePrefix builds a fixture from w and decodes it, tolerating a
// trailing decode error: bitWriter.finish() zero-pads to a byte boundary,
// and those padding bits are themselves a valid-looking bit sequence
// (0b000 is MOV's prefix), which Decode will attempt and then fail to
// find enough bits to finish — exactly the partial-decode-is-fatal
// behavior the real decoder exhibits on any code section whose bit
// length isn't byte-aligned. Tests here only care about the
// successfully decoded prefix.
func decodePrefix(t *testing.T, w *bitWriter) []isa.Instruction {
	t.Helper()
	instrs, err := Decode(w.finish())
	if err != nil {
		require.NotEmpty(t, instrs, "decode error before any instruction decoded: %v", err)
	}
	return instrs
}

func TestDecodeMovRegToReg(t *testing.T) {
	w := &bitWriter{}
	w.writeBE(0b000, 3) // MOV opcode
	w.writeBE(0, 1)     // flag=0: register operand
	w.writeLE(5, 4)     // src reg 5
	w.writeBE(0, 1)     // flag=0: register operand
	w.writeLE(6, 4)     // dst reg 6

	instrs := decodePrefix(t, w)
	require.Len(t, instrs, 1)
	inst := instrs[0]
	assert.Equal(t, isa.MOV, inst.Opcode)
	require.Len(t, inst.Args, 2)
	assert.Equal(t, isa.KindReg, inst.Args[0].Kind)
	assert.EqualValues(t, 5, inst.Args[0].Reg)
	assert.Equal(t, isa.KindReg, inst.Args[1].Kind)
	assert.EqualValues(t, 6, inst.Args[1].Reg)
}

func TestDecodeMovMemOperand(t *testing.T) {
	w := &bitWriter{}
	w.writeBE(0b000, 3) // MOV
	w.writeBE(1, 1)     // flag=1: memory operand
	w.writeLE(2, 2)     // ss=2 -> 4 bytes
	w.writeLE(3, 4)     // base reg 3
	w.writeBE(0, 1)     // flag=0: register dest
	w.writeLE(0, 4)

	instrs := decodePrefix(t, w)
	arg0 := instrs[0].Args[0]
	assert.Equal(t, isa.KindMem, arg0.Kind)
	assert.EqualValues(t, 3, arg0.Reg)
	assert.EqualValues(t, 4, arg0.SizeBytes)
}

func TestDecodeLoadConst(t *testing.T) {
	w := &bitWriter{}
	w.writeBE(0b001, 3)       // LOADCONST
	w.writeLE(0xDEADBEEF, 64) // 64-bit LE constant
	w.writeBE(0, 1)           // flag=0: register dest
	w.writeLE(1, 4)

	instrs, err := Decode(w.finish())
	require.NoError(t, err)
	inst := instrs[0]
	assert.Equal(t, isa.LOADCONST, inst.Opcode)
	assert.Equal(t, isa.KindConst, inst.Args[0].Kind)
	assert.EqualValues(t, 0xDEADBEEF, inst.Args[0].Const)
	assert.Equal(t, isa.KindReg, inst.Args[1].Kind)
	assert.EqualValues(t, 1, inst.Args[1].Reg)
}

func TestDecodeHltNoOperands(t *testing.T) {
	w := &bitWriter{}
	w.writeBE(0b10110, 5) // HLT
	instrs := decodePrefix(t, w)
	assert.Empty(t, instrs[0].Args)
}

func TestDecodeCreateThreadAddrPlusDirectReg(t *testing.T) {
	w := &bitWriter{}
	w.writeBE(0b10100, 5) // CREATETHREAD
	w.writeLE(0x100, 32)  // target bit address, LE
	w.writeBE(0, 1)       // flag=0: register operand
	w.writeLE(7, 4)       // reg 7

	instrs := decodePrefix(t, w)
	inst := instrs[0]
	assert.Equal(t, isa.KindAddr, inst.Args[0].Kind)
	assert.EqualValues(t, 0x100, inst.Args[0].Addr)
	assert.Equal(t, isa.KindReg, inst.Args[1].Kind)
	assert.EqualValues(t, 7, inst.Args[1].Reg)
}

func TestDecodeSequenceOfInstructions(t *testing.T) {
	w := &bitWriter{}
	w.writeBE(0b1101, 4) // RET
	w.writeBE(0b1100, 4) // CALL prefix...
	w.writeLE(0x10, 32)  // ...needs its 32-bit LE address operand

	instrs, err := Decode(w.finish())
	require.NoError(t, err)
	require.Len(t, instrs, 2)
	assert.Equal(t, isa.RET, instrs[0].Opcode)
	assert.Equal(t, isa.CALL, instrs[1].Opcode)
	assert.EqualValues(t, 0x10, instrs[1].Args[0].Addr)
}

func TestDecodeUnknownOpcodeErrors(t *testing.T) {
	// The byte starts with 011111: its 3-, 4-, 5- and 6-bit prefixes (011,
	// 0111, 01111, 011111) are all unassigned in the opcode table.
	_, err := Decode([]byte{0b01111100})
	assert.Error(t, err, "expected error for unknown opcode bit sequence")
}
