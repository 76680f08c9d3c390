// Package arm64enc implements the low-level, stateless ARM64 instruction
// encoder: one pure function per instruction form, each returning exactly
// one 32-bit native word. This mirrors the shape of the teacher's x86
// per-instruction encoder functions (recompiler_memory.go's
// generateLoadImm64 and friends) one level down: given already-resolved
// register numbers and immediates, produce the machine word. Nothing here
// knows about guest semantics, labels, or fixups — that is internal/builder
// and internal/translator's job.
//
// All functions are total: displacement and immediate fields are masked to
// their width. Callers (internal/builder, internal/translator) are
// responsible for range-checking before relying on masked results.
package arm64enc

// Register numbers follow the AAPCS64 convention. XZR/WZR is 31.
const (
	XZR = 31
	SP  = 31
	FP  = 29 // x29
	LR  = 30 // x30
)

// Condition codes, per the A64 4-bit condition field.
const (
	CondEQ = 0b0000
	CondNE = 0b0001
	CondGE = 0b1010
	CondLT = 0b1011
	CondGT = 0b1100
	CondLE = 0b1101
)

func invertCond(cond uint32) uint32 { return cond ^ 1 }

func mask(v uint32, bits uint) uint32 { return v & ((1 << bits) - 1) }

// NOP is the fixed encoding of the A64 no-op.
const NOP uint32 = 0xD503201F

// MovWide encodes MOVZ (keep=false) or MOVK (keep=true) for a 16-bit
// immediate at the given 16-bit-aligned shift (0,16,32,48), 64-bit
// destination when sf64 is true.
func MovWide(rd uint32, imm16 uint16, shift uint32, keep bool, sf64 bool) uint32 {
	sf := uint32(0)
	if sf64 {
		sf = 1
	}
	opc := uint32(0b10) // MOVZ
	if keep {
		opc = 0b11 // MOVK
	}
	hw := mask(shift/16, 2)
	return (sf << 31) | (opc << 29) | (0b100101 << 23) | (hw << 21) | (uint32(imm16) << 5) | mask(rd, 5)
}

// MovReg encodes a register-to-register move as ORR Xd, XZR, Xm.
func MovReg(rd, rm uint32) uint32 {
	return orrShifted(1, rd, XZR, rm)
}

func orrShifted(sf, rd, rn, rm uint32) uint32 {
	return (sf << 31) | (0b01 << 29) | (0b01010 << 24) | (0 << 22) | (0 << 21) | (mask(rm, 5) << 16) | (0 << 10) | (mask(rn, 5) << 5) | mask(rd, 5)
}

// LdrStrUnsignedImm encodes LDR/STR (unsigned offset, 64-bit), imm is a
// byte offset that must be a multiple of 8; it is stored pre-divided by 8.
func LdrStrUnsignedImm(load bool, rt, rn uint32, byteOffset uint32) uint32 {
	opc := uint32(0b00)
	if load {
		opc = 0b01
	}
	imm12 := mask(byteOffset/8, 12)
	return (0b11 << 30) | (0b111001 << 24) | (opc << 22) | (imm12 << 10) | (mask(rn, 5) << 5) | mask(rt, 5)
}

// sizeCode maps a byte size {1,2,4,8} to the 2-bit "size" field used by the
// register-offset load/store form.
func sizeCode(sizeBytes uint8) uint32 {
	switch sizeBytes {
	case 1:
		return 0b00
	case 2:
		return 0b01
	case 4:
		return 0b10
	case 8:
		return 0b11
	default:
		return 0b11
	}
}

// LdrStrRegOffsetUXTW encodes the base+32-bit-zero-extended-index
// load/store form: LDR/STR <Xt|Wt>, [Xn, Wm, UXTW]. This is the sole
// sandboxing primitive: the index register Rm is architecturally
// zero-extended from its low 32 bits regardless of its upper bits, so no
// guest-controlled value can address beyond 2^32 from the base. This must
// never be replaced by an immediate-offset or sign-extended form.
func LdrStrRegOffsetUXTW(load bool, sizeBytes uint8, rt, rn, rm uint32) uint32 {
	size := sizeCode(sizeBytes)
	opc := uint32(0b00)
	if load {
		opc = 0b01
	}
	const option = 0b010 // UXTW
	const s = 0           // no shift: byte-granular index
	return (size << 30) | (0b111 << 27) | (0 << 26) | (0b00 << 24) | (opc << 22) | (1 << 21) |
		(mask(rm, 5) << 16) | (option << 13) | (s << 12) | (0b10 << 10) | (mask(rn, 5) << 5) | mask(rt, 5)
}

func ldpStpSignedOffset(load bool, rt1, rt2, rn uint32, imm7x8 int32) uint32 {
	l := uint32(0)
	if load {
		l = 1
	}
	return (0b10 << 30) | (0b101 << 27) | (0 << 26) | (0b010 << 23) | (l << 22) |
		(mask(uint32(imm7x8), 7) << 15) | (mask(rt2, 5) << 10) | (mask(rn, 5) << 5) | mask(rt1, 5)
}

// LdpSignedOffset / StpSignedOffset encode the 64-bit pair load/store with
// a signed, 8-byte-scaled offset.
func LdpSignedOffset(rt1, rt2, rn uint32, byteOffset int32) uint32 {
	return ldpStpSignedOffset(true, rt1, rt2, rn, byteOffset/8)
}
func StpSignedOffset(rt1, rt2, rn uint32, byteOffset int32) uint32 {
	return ldpStpSignedOffset(false, rt1, rt2, rn, byteOffset/8)
}

// StpPreIndex / LdpPostIndex encode the two frame-setup/teardown pair
// instructions used by the function prologue and epilogue: STP with
// writeback before the access, LDP with writeback after.
func StpPreIndex(rt1, rt2, rn uint32, byteOffset int32) uint32 {
	imm7 := byteOffset / 8
	return (0b10 << 30) | (0b101 << 27) | (0 << 26) | (0b011 << 23) | (0 << 22) |
		(mask(uint32(imm7), 7) << 15) | (mask(rt2, 5) << 10) | (mask(rn, 5) << 5) | mask(rt1, 5)
}
func LdpPostIndex(rt1, rt2, rn uint32, byteOffset int32) uint32 {
	imm7 := byteOffset / 8
	return (0b10 << 30) | (0b101 << 27) | (0 << 26) | (0b001 << 23) | (1 << 22) |
		(mask(uint32(imm7), 7) << 15) | (mask(rt2, 5) << 10) | (mask(rn, 5) << 5) | mask(rt1, 5)
}

func addSubReg(sf, op, s, rd, rn, rm uint32) uint32 {
	return (sf << 31) | (op << 30) | (s << 29) | (0b01011 << 24) | (0 << 22) | (0 << 21) |
		(mask(rm, 5) << 16) | (0 << 10) | (mask(rn, 5) << 5) | mask(rd, 5)
}

// AddReg / SubReg encode 64-bit register-register ADD/SUB.
func AddReg(rd, rn, rm uint32) uint32 { return addSubReg(1, 0, 0, rd, rn, rm) }
func SubReg(rd, rn, rm uint32) uint32 { return addSubReg(1, 1, 0, rd, rn, rm) }

// SubsToZero encodes SUBS XZR, Rn, Rm — the compare-and-set-flags form
// that COMPARE/JUMPEQ rely on; no instruction that clobbers flags may be
// emitted between this and the conditional branch/cset that consumes them.
func SubsToZero(rn, rm uint32) uint32 { return addSubReg(1, 1, 1, XZR, rn, rm) }

func addSubImm(sf, op, s, rd, rn, imm12 uint32) uint32 {
	return (sf << 31) | (op << 30) | (s << 29) | (0b100010 << 23) | (0 << 22) |
		(mask(imm12, 12) << 10) | (mask(rn, 5) << 5) | mask(rd, 5)
}

// AddImm12 / SubImm12 encode 64-bit register+12-bit-immediate ADD/SUB.
func AddImm12(rd, rn uint32, imm12 uint32) uint32 { return addSubImm(1, 0, 0, rd, rn, imm12) }
func SubImm12(rd, rn uint32, imm12 uint32) uint32 { return addSubImm(1, 1, 0, rd, rn, imm12) }

// MovSP encodes MOV Xd, SP as ADD Xd, SP, #0.
func MovSP(rd, rn uint32) uint32 { return AddImm12(rd, rn, 0) }

func dataProc2Src(rd, rn, rm, opcode uint32) uint32 {
	return (1 << 31) | (0 << 30) | (0 << 29) | (0b11010110 << 21) | (mask(rm, 5) << 16) |
		(mask(opcode, 6) << 10) | (mask(rn, 5) << 5) | mask(rd, 5)
}

// Udiv / Sdiv encode 64-bit unsigned/signed divide. The spec requires this
// asymmetry to be preserved: DIV lowers through Sdiv, MOD lowers through
// Udiv followed by Msub, even though that looks inconsistent.
func Udiv(rd, rn, rm uint32) uint32 { return dataProc2Src(rd, rn, rm, 0b000010) }
func Sdiv(rd, rn, rm uint32) uint32 { return dataProc2Src(rd, rn, rm, 0b000011) }

func dataProc3Src(rd, rn, rm, ra, o0 uint32) uint32 {
	return (1 << 31) | (0b00 << 29) | (0b11011 << 24) | (0b000 << 21) | (mask(rm, 5) << 16) |
		(mask(o0, 1) << 15) | (mask(ra, 5) << 10) | (mask(rn, 5) << 5) | mask(rd, 5)
}

// Mul encodes MUL Rd, Rn, Rm as MADD Rd, Rn, Rm, XZR.
func Mul(rd, rn, rm uint32) uint32 { return dataProc3Src(rd, rn, rm, XZR, 0) }

// Msub encodes MSUB Rd, Rn, Rm, Ra = Ra - Rn*Rm. Used for MOD's
// `a - q*b` remainder computation.
func Msub(rd, rn, rm, ra uint32) uint32 { return dataProc3Src(rd, rn, rm, ra, 1) }

// Cset encodes CSET Rd, cond as CSINC Rd, XZR, XZR, invert(cond).
func Cset(rd uint32, cond uint32) uint32 {
	inv := invertCond(cond)
	const op2 = 0b01 // CSINC
	return (1 << 31) | (0 << 30) | (0 << 29) | (0b11010100 << 21) | (mask(XZR, 5) << 16) |
		(mask(inv, 4) << 12) | (op2 << 10) | (mask(XZR, 5) << 5) | mask(rd, 5)
}

// BCond encodes a conditional branch with a 19-bit signed displacement
// measured in instructions (not bytes), relative to the branch word.
func BCond(cond uint32, disp19 int32) uint32 {
	return (0b01010100 << 24) | (mask(uint32(disp19), 19) << 5) | mask(cond, 4)
}

// B / Bl encode unconditional branch / branch-with-link with a 26-bit
// signed instruction displacement.
func B(disp26 int32) uint32  { return (0b000101 << 26) | mask(uint32(disp26), 26) }
func Bl(disp26 int32) uint32 { return (0b100101 << 26) | mask(uint32(disp26), 26) }

func branchReg(opc, rn uint32) uint32 {
	return (0b1101011 << 25) | (mask(opc, 4) << 21) | (0b11111 << 16) | (0 << 10) | (mask(rn, 5) << 5)
}

// Br / Blr / Ret encode the register-indirect branch forms.
func Br(rn uint32) uint32  { return branchReg(0b0000, rn) }
func Blr(rn uint32) uint32 { return branchReg(0b0001, rn) }
func Ret(rn uint32) uint32 { return branchReg(0b0010, rn) }

// Lsl encodes LSL Rd, Rn, #shift (64-bit) as its UBFM alias.
func Lsl(rd, rn uint32, shift uint32) uint32 {
	immr := mask(uint32(-int32(shift)), 6)
	imms := mask(63-shift, 6)
	return (1 << 31) | (0b10 << 29) | (0b100110 << 23) | (1 << 22) | (immr << 16) | (imms << 10) | (mask(rn, 5) << 5) | mask(rd, 5)
}

// Adr encodes ADR Rd, #imm21 — a signed, byte-granular PC-relative address
// formation used to locate the fixed first-generated-instruction slot.
func Adr(rd uint32, imm21 int32) uint32 {
	u := mask(uint32(imm21), 21)
	immlo := u & 0b11
	immhi := u >> 2
	return (0 << 31) | (immlo << 29) | (0b10000 << 24) | (immhi << 5) | mask(rd, 5)
}
