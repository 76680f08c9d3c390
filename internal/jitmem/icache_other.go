//go:build !arm64

package jitmem

// flushICache is a no-op on non-arm64 hosts. This project's generated
// code is arm64-only (spec §1); this build keeps the package importable
// on a development machine of another architecture without pretending to
// support execution there.
func flushICache(mem []byte) {}
