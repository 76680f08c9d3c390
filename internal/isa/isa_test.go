package isa

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFile(magic [8]byte, codeSize, dataSize, initialDataSize uint32, code, initialData []byte) []byte {
	buf := make([]byte, 20)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], codeSize)
	binary.LittleEndian.PutUint32(buf[12:16], dataSize)
	binary.LittleEndian.PutUint32(buf[16:20], initialDataSize)
	buf = append(buf, code...)
	buf = append(buf, initialData...)
	return buf
}

func TestParseFileRoundTrips(t *testing.T) {
	code := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	initial := []byte{1, 2}
	buf := buildFile(Magic, uint32(len(code)), 4096, uint32(len(initial)), code, initial)

	prog, err := ParseFile(buf)
	require.NoError(t, err, "ParseFile")
	assert.Equal(t, code, prog.Code)
	assert.Equal(t, initial, prog.InitialData)
	assert.EqualValues(t, 4096, prog.Header.DataSize)
}

func TestParseFileRejectsBadMagic(t *testing.T) {
	badMagic := [8]byte{'N', 'O', 'P', 'E', '-', 'V', 'M', '2'}
	buf := buildFile(badMagic, 0, 0, 0, nil, nil)
	_, err := ParseFile(buf)
	assert.Error(t, err, "expected an error for a bad magic header")
}

func TestParseFileRejectsFileShorterThanHeader(t *testing.T) {
	_, err := ParseFile([]byte{1, 2, 3})
	assert.Error(t, err, "expected an error for a file shorter than the header")
}

func TestParseFileRejectsTruncatedCodeSection(t *testing.T) {
	buf := buildFile(Magic, 100, 0, 0, nil, nil) // claims 100 bytes of code, has 0
	_, err := ParseFile(buf)
	assert.Error(t, err, "expected an error for a truncated code section")
}

func TestParseFileRejectsTruncatedInitialDataSection(t *testing.T) {
	buf := buildFile(Magic, 0, 4096, 100, nil, nil) // claims 100 bytes of initial data, has 0
	_, err := ParseFile(buf)
	assert.Error(t, err, "expected an error for a truncated initial-data section")
}

func TestParseFileRejectsInitialDataLargerThanDataSize(t *testing.T) {
	initial := make([]byte, 100)
	buf := buildFile(Magic, 0, 50, 100, nil, initial) // initial_data_size > data_size
	_, err := ParseFile(buf)
	assert.Error(t, err, "expected an error: initial_data_size exceeds data_size")
}

func TestOpStringCoversAllOpcodes(t *testing.T) {
	ops := []Op{MOV, LOADCONST, ADD, SUB, DIV, MOD, MUL, COMPARE, JUMP, JUMPEQ,
		READ, WRITE, CONSOLEREAD, CONSOLEWRITE, CREATETHREAD, JOINTHREAD,
		HLT, SLEEP, CALL, RET, LOCK, UNLOCK}
	seen := make(map[string]bool)
	for _, op := range ops {
		s := op.String()
		assert.NotEmpty(t, s, "Op(%d).String()", int(op))
		assert.False(t, seen[s], "duplicate Op.String() value %q", s)
		seen[s] = true
	}
}

func TestOperandConstructorsSetKindAndFields(t *testing.T) {
	r := Reg(5)
	assert.Equal(t, KindReg, r.Kind)
	assert.EqualValues(t, 5, r.Reg)

	m := Mem(2, 4)
	assert.Equal(t, KindMem, m.Kind)
	assert.EqualValues(t, 2, m.Reg)
	assert.EqualValues(t, 4, m.SizeBytes)

	a := Addr(128)
	assert.Equal(t, KindAddr, a.Kind)
	assert.EqualValues(t, 128, a.Addr)

	c := Const(-7)
	assert.Equal(t, KindConst, c.Kind)
	assert.EqualValues(t, -7, c.Const)

	n := None()
	assert.Equal(t, KindNone, n.Kind)
}
