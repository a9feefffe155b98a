package shm

import (
	"fmt"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

const testBase Addr = 0x20030000

func newTestRegion(t *testing.T, size int) *Region {
	t.Helper()
	r, err := NewHeapRegion(testBase, size)
	require.NoError(t, err)
	return r
}

func TestNewRegionRejectsBadBase(t *testing.T) {
	_, err := NewHeapRegion(Nil, 64)
	require.Error(t, err)

	_, err = NewHeapRegion(testBase+2, 64)
	require.Error(t, err)

	_, err = NewRegion(0xFFFFFFF0, make([]byte, 64))
	require.Error(t, err)
}

func TestWordAccess(t *testing.T) {
	r := newTestRegion(t, 64)

	r.Store32(testBase+8, 0xDEADBEEF)
	require.Equal(t, uint32(0xDEADBEEF), r.Load32(testBase+8))

	r.StoreAddr(testBase+12, testBase+32)
	require.Equal(t, testBase+32, r.LoadAddr(testBase+12))

	// little-endian byte order in memory
	require.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, r.Bytes(testBase+8, 4))
}

func TestStore8KeepsNeighbours(t *testing.T) {
	r := newTestRegion(t, 16)
	r.Store32(testBase, 0x44332211)

	r.Store8(testBase+2, 0xAA)

	require.Equal(t, uint32(0x44AA2211), r.Load32(testBase))
	require.Equal(t, uint8(0x11), r.Load8(testBase))
	require.Equal(t, uint8(0xAA), r.Load8(testBase+2))
	require.Equal(t, uint8(0x44), r.Load8(testBase+3))
}

func TestUnalignedHalfword(t *testing.T) {
	r := newTestRegion(t, 16)

	// straddles a word boundary
	r.Store16(testBase+3, 0x0C03)

	require.Equal(t, uint16(0x0C03), r.Load16(testBase+3))
	require.Equal(t, []byte{0x03, 0x0C}, r.Bytes(testBase+3, 2))
}

func TestZero(t *testing.T) {
	r := newTestRegion(t, 32)
	copy(r.Bytes(testBase, 32), []byte("0123456789abcdefghijklmnopqrstuv"))

	r.Zero(testBase+3, 10)

	got := r.Bytes(testBase, 16)
	require.Equal(t, []byte("012\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00def"), got)
}

func TestFaults(t *testing.T) {
	r := newTestRegion(t, 16)

	require.Panics(t, func() { r.Load32(testBase + 2) })
	require.Panics(t, func() { r.Load32(testBase + 16) })
	require.Panics(t, func() { r.Load8(testBase - 1) })
	require.Panics(t, func() { r.Bytes(testBase+8, 9) })

	defer func() {
		v := recover()
		fe, ok := v.(*FaultError)
		require.True(t, ok, "panic value %T", v)
		require.Equal(t, testBase+20, fe.Addr)
	}()
	r.Store32(testBase+20, 1)
}

func TestContains(t *testing.T) {
	r := newTestRegion(t, 16)
	require.True(t, r.Contains(testBase, 16))
	require.True(t, r.Contains(testBase+15, 1))
	require.False(t, r.Contains(testBase+15, 2))
	require.False(t, r.Contains(testBase-4, 4))
	require.Equal(t, testBase+16, r.End())
}

func TestMapRegionShared(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getenv("TLMBOX_SKIP_SHM") != "" {
		t.Skip("named shared memory disabled")
	}
	name := fmt.Sprintf("tlmbox_region_test_%d", os.Getpid())
	_ = UnlinkShm(name)
	defer UnlinkShm(name)

	a, err := MapRegion(name, testBase, 4096, true)
	require.NoError(t, err)
	defer a.Close()

	b, err := MapRegion(name, testBase, 4096, false)
	require.NoError(t, err)
	defer b.Close()

	a.Store32(testBase+128, 0xCAFEF00D)
	require.Equal(t, uint32(0xCAFEF00D), b.Load32(testBase+128))

	_, err = OpenShm(name, 8192)
	require.Error(t, err)
}
