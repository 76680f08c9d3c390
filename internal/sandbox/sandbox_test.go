package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRoundRoundsUpToPageBoundary(t *testing.T) {
	cases := map[uint64]uint64{
		0:    0,
		1:    4096,
		4096: 4096,
		4097: 8192,
	}
	for in, want := range cases {
		assert.Equal(t, want, pageRound(in), "pageRound(%d)", in)
	}
}

func TestNewGuardRegionMapsAccessiblePrefixOnly(t *testing.T) {
	initial := []byte{1, 2, 3, 4}
	g, err := newGuardRegion(4096, uint32(len(initial)), initial)
	require.NoError(t, err)
	defer g.release()

	assert.Equal(t, initial, g.mem[:len(initial)])

	// The accessible prefix must be writable.
	g.mem[4095] = 0xFF
	assert.EqualValues(t, 0xFF, g.mem[4095])
}

func TestNewGuardRegionRejectsOversizedInitialData(t *testing.T) {
	initial := make([]byte, 8192)
	_, err := newGuardRegion(4096, uint32(len(initial)), initial)
	assert.Error(t, err, "expected an error: initial data exceeds the accessible prefix")
}

func TestNewGuardRegionWithZeroDataSizeStillSucceeds(t *testing.T) {
	g, err := newGuardRegion(0, 0, nil)
	require.NoError(t, err)
	defer g.release()
	assert.NotEmpty(t, g.mem, "expected the full guard reservation to still be mapped")
}

func TestRunChildExitConstantsAreDistinct(t *testing.T) {
	seen := map[int]bool{ExitNormal: true}
	for _, c := range []int{ExitHardTimeout, ExitSandboxFault} {
		assert.False(t, seen[c], "exit code %d is reused across constants", c)
		seen[c] = true
	}
}
