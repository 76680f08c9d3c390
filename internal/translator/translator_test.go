package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitforge-vm/aj64jit/internal/isa"
)

func TestScanLabelKindsRejectsConflictingUses(t *testing.T) {
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.JUMP, Args: []isa.Operand{isa.Addr(100)}},
		{BitOffset: 50, Opcode: isa.CALL, Args: []isa.Operand{isa.Addr(100)}},
		{BitOffset: 100, Opcode: isa.RET},
	}
	_, err := Translate(instrs, HostFuncs{})
	assert.Error(t, err, "expected error: address 100 is both a Jump and a Call target")
}

func TestScanLabelKindsAllowsRepeatedSameKindUse(t *testing.T) {
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.JUMP, Args: []isa.Operand{isa.Addr(100)}},
		{BitOffset: 50, Opcode: isa.JUMP, Args: []isa.Operand{isa.Addr(100)}},
		{BitOffset: 100, Opcode: isa.RET},
	}
	_, err := Translate(instrs, HostFuncs{})
	assert.NoError(t, err)
}

func TestBitToNativeIsTotalAndInBounds(t *testing.T) {
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.LOADCONST, Args: []isa.Operand{isa.Const(7), isa.Reg(0)}},
		{BitOffset: 80, Opcode: isa.RET},
	}
	res, err := Translate(instrs, HostFuncs{})
	require.NoError(t, err)
	for _, inst := range instrs {
		native, ok := res.BitToNative[inst.BitOffset]
		require.True(t, ok, "bit_to_native missing entry for bit %d", inst.BitOffset)
		assert.GreaterOrEqual(t, native, 0)
		assert.Less(t, native, len(res.Code))
	}
}

func TestJumpFixupResolvesToCorrectNativeIndex(t *testing.T) {
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.JUMP, Args: []isa.Operand{isa.Addr(40)}},
		{BitOffset: 40, Opcode: isa.RET},
	}
	res, err := Translate(instrs, HostFuncs{})
	require.NoError(t, err)
	jumpNative := res.BitToNative[0]
	retNative := res.BitToNative[40]

	w := res.Code[jumpNative]
	require.EqualValues(t, 0b000101, w>>26, "expected an unconditional B at native index %d", jumpNative)
	disp := int32(w & 0x3FFFFFF)
	signExtended := (disp << 6) >> 6
	assert.Equal(t, retNative, int(jumpNative)+int(signExtended))
}

func TestCallTargetGetsFunctionPrologueJumpTargetDoesNot(t *testing.T) {
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.CALL, Args: []isa.Operand{isa.Addr(40)}},
		{BitOffset: 40, Opcode: isa.RET},
		{BitOffset: 44, Opcode: isa.JUMP, Args: []isa.Operand{isa.Addr(80)}},
		{BitOffset: 80, Opcode: isa.RET},
	}
	res, err := Translate(instrs, HostFuncs{})
	require.NoError(t, err)

	callTargetNative := res.BitToNative[40]
	jumpTargetNative := res.BitToNative[80]

	// STP{FP,LR,[SP,#-16]!} followed by MOV FP, SP is the two-word
	// function-prologue signature; a call target must carry it, a jump
	// target must not.
	isProlog := func(idx int) bool {
		if idx+1 >= len(res.Code) {
			return false
		}
		w0, w1 := res.Code[idx], res.Code[idx+1]
		return (w0>>22)&0x3FF == 0b1010100110 && (w1>>24)&0xFF == 0b10010001
	}
	assert.True(t, isProlog(callTargetNative), "CALL target should carry a function prologue")
	assert.False(t, isProlog(jumpTargetNative), "JUMP target must not carry a function prologue")
}

func TestCreateThreadFixupPatchesLoadImmediateNotBranch(t *testing.T) {
	hf := HostFuncs{ThreadCreate: 0xABCD}
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.CREATETHREAD, Args: []isa.Operand{isa.Addr(40), isa.Reg(1)}},
		{BitOffset: 40, Opcode: isa.RET},
	}
	res, err := Translate(instrs, hf)
	require.NoError(t, err)
	targetNative := res.BitToNative[40]
	if targetNative >= 65536 {
		t.Skip("target native index too large for this fixture to exercise the 16-bit MOVZ patch")
	}
	// The patch site should now be a MOVZ encoding the resolved native
	// index as its 16-bit immediate, not a branch instruction.
	found := false
	for _, w := range res.Code {
		if (w>>29)&0x3 == 0b10 && (w>>23)&0x3F == 0b100101 {
			imm16 := (w >> 5) & 0xFFFF
			if int(imm16) == targetNative {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected a MOVZ word encoding the resolved native target as its 16-bit immediate")
}

func TestUnresolvedFixupTargetIsAnError(t *testing.T) {
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.JUMP, Args: []isa.Operand{isa.Addr(999)}},
	}
	_, err := Translate(instrs, HostFuncs{})
	assert.Error(t, err, "expected an error: JUMP targets a bit offset with no instruction")
}

func TestArityMismatchIsAnError(t *testing.T) {
	instrs := []isa.Instruction{
		{BitOffset: 0, Opcode: isa.MOV, Args: []isa.Operand{isa.Reg(0)}}, // MOV needs 2 operands
	}
	_, err := Translate(instrs, HostFuncs{})
	assert.Error(t, err, "expected an arity error for MOV with one operand")
}
