// Package bitstream implements the two multi-bit read primitives the guest
// code section is decoded with: bytes are consumed MSB-first, and a
// multi-bit field can be assembled either big-endian (first bit read
// becomes the result's MSB) or little-endian (first bit read becomes the
// result's LSB). This mirrors the byte-level varint helpers in the
// teacher's program.go, generalized down to single-bit granularity.
package bitstream

import "fmt"

// Reader reads bits MSB-first out of an underlying byte slice.
type Reader struct {
	data   []byte
	bitPos uint64 // absolute bit position from start of data
}

// NewReader wraps buf for bit-level reading starting at bit 0.
func NewReader(buf []byte) *Reader {
	return &Reader{data: buf}
}

// BitPos returns the current absolute bit offset, also usable as an
// Instruction.BitOffset value for the instruction about to be decoded.
func (r *Reader) BitPos() uint32 { return uint32(r.bitPos) }

// Remaining reports how many bits are left to read.
func (r *Reader) Remaining() uint64 { return uint64(len(r.data))*8 - r.bitPos }

// readBit returns the next single bit, or an error if the stream is
// exhausted.
func (r *Reader) readBit() (uint64, error) {
	if r.bitPos >= uint64(len(r.data))*8 {
		return 0, fmt.Errorf("bitstream: read past end at bit %d", r.bitPos)
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8) // MSB-first within the byte
	bit := (uint64(r.data[byteIdx]) >> bitIdx) & 1
	r.bitPos++
	return bit, nil
}

// ReadBitsBE reads n bits where the first bit read becomes the MSB of the
// n-bit result.
func (r *Reader) ReadBitsBE(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v = (v << 1) | b
	}
	return v, nil
}

// ReadBitsLE reads n bits where the first bit read becomes the LSB of the
// n-bit result.
func (r *Reader) ReadBitsLE(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v |= b << i
	}
	return v, nil
}

// PeekBitsBE reads n bits like ReadBitsBE but does not advance the cursor.
// Used by the opcode prefix matcher, which must try 6 bits before it knows
// how many of them belong to the opcode.
func (r *Reader) PeekBitsBE(n int) (uint64, bool) {
	saved := r.bitPos
	v, err := r.ReadBitsBE(n)
	r.bitPos = saved
	if err != nil {
		return 0, false
	}
	return v, true
}

// Advance moves the cursor forward by n bits without producing a value.
func (r *Reader) Advance(n int) { r.bitPos += uint64(n) }
