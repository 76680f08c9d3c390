package isa

import (
	"encoding/binary"
	"fmt"
)

// Program is a fully parsed bytecode file: the header plus its code and
// initial-data sections.
type Program struct {
	Header      FileHeader
	Code        []byte
	InitialData []byte
}

// headerSize is the fixed 8+4+4+4 byte prefix.
const headerSize = 20

// ParseFile parses a raw ESET-VM2 bytecode file per spec §6. Invalid magic
// or truncation is fatal, per spec.
func ParseFile(buf []byte) (*Program, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("isa: file too short for header (%d bytes)", len(buf))
	}
	var hdr FileHeader
	copy(hdr.Magic[:], buf[0:8])
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("isa: bad magic %q, want %q", hdr.Magic, Magic)
	}
	hdr.CodeSize = binary.LittleEndian.Uint32(buf[8:12])
	hdr.DataSize = binary.LittleEndian.Uint32(buf[12:16])
	hdr.InitialDataSize = binary.LittleEndian.Uint32(buf[16:20])

	off := headerSize
	if uint64(off)+uint64(hdr.CodeSize) > uint64(len(buf)) {
		return nil, fmt.Errorf("isa: truncated code section (want %d bytes)", hdr.CodeSize)
	}
	code := buf[off : off+int(hdr.CodeSize)]
	off += int(hdr.CodeSize)

	if uint64(off)+uint64(hdr.InitialDataSize) > uint64(len(buf)) {
		return nil, fmt.Errorf("isa: truncated initial-data section (want %d bytes)", hdr.InitialDataSize)
	}
	data := buf[off : off+int(hdr.InitialDataSize)]

	if hdr.InitialDataSize > hdr.DataSize {
		return nil, fmt.Errorf("isa: initial_data_size %d exceeds data_size %d", hdr.InitialDataSize, hdr.DataSize)
	}

	return &Program{Header: hdr, Code: code, InitialData: data}, nil
}
