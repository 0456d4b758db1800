package blockdev

import (
	"path/filepath"
	"testing"

	"github.com/lynafyna/chilena/pkg/kerr"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, capacity uint64) *Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	backend, err := OpenFileBackend(path, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return New(backend, 8, 1000)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dev := newTestDevice(t, 16)
	var in, out [SectorSize]byte
	copy(in[:], "hello sector")

	require.NoError(t, dev.WriteSector(3, &in))
	require.NoError(t, dev.ReadSector(3, &out))
	require.Equal(t, in, out)
}

func TestReadSectorOutOfRange(t *testing.T) {
	dev := newTestDevice(t, 4)
	var out [SectorSize]byte
	err := dev.ReadSector(4, &out)
	require.ErrorIs(t, err, kerr.ErrSectorOutOfRange)
}

func TestDeviceErrorStatusSurfaces(t *testing.T) {
	dev := newTestDevice(t, 4)
	dev.SetFaultInjector(func(sector uint64, write bool) (bool, bool) {
		return true, false
	})
	var out [SectorSize]byte
	err := dev.ReadSector(0, &out)
	require.ErrorIs(t, err, kerr.ErrDeviceError)
}

func TestSpinTimeoutWhenDeviceNeverCompletes(t *testing.T) {
	dev := newTestDevice(t, 4)
	dev.spinLimit = 10
	dev.SetFaultInjector(func(sector uint64, write bool) (bool, bool) {
		return false, true
	})
	var out [SectorSize]byte
	err := dev.ReadSector(0, &out)
	require.ErrorIs(t, err, kerr.ErrTimeout)
}

func TestMultipleSectorsIndependent(t *testing.T) {
	dev := newTestDevice(t, 4)
	var a, b, outA, outB [SectorSize]byte
	copy(a[:], "sector A")
	copy(b[:], "sector B")
	require.NoError(t, dev.WriteSector(0, &a))
	require.NoError(t, dev.WriteSector(1, &b))
	require.NoError(t, dev.ReadSector(0, &outA))
	require.NoError(t, dev.ReadSector(1, &outB))
	require.Equal(t, a, outA)
	require.Equal(t, b, outB)
}
