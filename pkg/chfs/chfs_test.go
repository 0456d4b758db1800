package chfs

import (
	"strings"
	"testing"

	"github.com/lynafyna/chilena/pkg/kerr"
	"github.com/stretchr/testify/require"
)

// memDevice is an in-memory SectorDevice standing in for real transport in
// tests with a plain map.
type memDevice struct {
	sectors map[uint64][SectorSize]byte
}

func newMemDevice() *memDevice {
	return &memDevice{sectors: make(map[uint64][SectorSize]byte)}
}

func (m *memDevice) ReadSector(n uint64, out *[SectorSize]byte) error {
	*out = m.sectors[n]
	return nil
}

func (m *memDevice) WriteSector(n uint64, in *[SectorSize]byte) error {
	m.sectors[n] = *in
	return nil
}

func newFormatted(t *testing.T) *Filesystem {
	t.Helper()
	fs := New(newMemDevice())
	require.NoError(t, fs.Format())
	return fs
}

func TestFormatThenMount(t *testing.T) {
	dev := newMemDevice()
	fs := New(dev)
	require.NoError(t, fs.Format())

	fs2 := New(dev)
	require.True(t, fs2.Mount())
	count, dataStart, next := fs2.Info()
	require.Equal(t, uint32(0), count)
	require.Equal(t, uint32(DataStart), dataStart)
	require.Equal(t, uint64(DataStart), next)
}

func TestMountRejectsUnformattedDevice(t *testing.T) {
	fs := New(newMemDevice())
	require.False(t, fs.Mount())
	require.False(t, fs.IsMounted())
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := newFormatted(t)
	data := []byte("hello, chilena")
	require.NoError(t, fs.WriteFile("greeting.txt", data))

	got, err := fs.ReadFile("greeting.txt")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWriteFileResolvesToBasename(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.WriteFile("/some/path/note.txt", []byte("x")))
	require.True(t, fs.Exists("note.txt"))
}

func TestOverwriteReplacesContent(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.WriteFile("f.txt", []byte("first")))
	require.NoError(t, fs.WriteFile("f.txt", []byte("second, and longer")))

	got, err := fs.ReadFile("f.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("second, and longer"), got)

	count, _, _ := fs.Info()
	require.Equal(t, uint32(1), count)
}

func TestEmptyFileRoundTrips(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.WriteFile("empty.bin", nil))
	got, err := fs.ReadFile("empty.bin")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExactSectorMultipleHasNoTrailingZeros(t *testing.T) {
	fs := newFormatted(t)
	data := []byte(strings.Repeat("a", SectorSize*2))
	require.NoError(t, fs.WriteFile("two_sectors.bin", data))

	got, err := fs.ReadFile("two_sectors.bin")
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Len(t, got, SectorSize*2)
}

func TestNameTooLongRejected(t *testing.T) {
	fs := newFormatted(t)
	longName := strings.Repeat("n", MaxNameLen+1)
	err := fs.WriteFile(longName, []byte("x"))
	require.ErrorIs(t, err, kerr.ErrNameTooLong)
}

func TestReadMissingFileNotFound(t *testing.T) {
	fs := newFormatted(t)
	_, err := fs.ReadFile("nope.txt")
	require.ErrorIs(t, err, kerr.ErrNotFound)
}

func TestReadDirectoryNotAFile(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Mkdir("somedir"))
	_, err := fs.ReadFile("somedir")
	require.ErrorIs(t, err, kerr.ErrNotAFile)
}

func TestInodeTableExhaustion(t *testing.T) {
	fs := newFormatted(t)
	for i := 0; i < MaxInodes; i++ {
		require.NoError(t, fs.WriteFile(strings.Repeat("f", 1)+string(rune('a'+i%26))+string(rune('0'+i/26)), []byte("x")))
	}
	err := fs.WriteFile("one_too_many.txt", []byte("x"))
	require.ErrorIs(t, err, kerr.ErrNoFreeInodes)
}

func TestRemoveFreesInodeButNotData(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.WriteFile("a.txt", []byte("data")))
	_, _, nextBefore := fs.Info()

	require.NoError(t, fs.Remove("a.txt"))
	require.False(t, fs.Exists("a.txt"))

	require.NoError(t, fs.WriteFile("b.txt", []byte("more")))
	_, _, nextAfter := fs.Info()
	require.Greater(t, nextAfter, nextBefore)
}

func TestOperationsRequireMount(t *testing.T) {
	fs := New(newMemDevice())
	require.ErrorIs(t, fs.WriteFile("a.txt", []byte("x")), kerr.ErrNotMounted)
	_, err := fs.ReadFile("a.txt")
	require.ErrorIs(t, err, kerr.ErrNotMounted)
	require.ErrorIs(t, fs.Mkdir("d"), kerr.ErrNotMounted)
	require.ErrorIs(t, fs.Remove("a.txt"), kerr.ErrNotMounted)
}

func TestListAllReportsLiveInodes(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.WriteFile("a.txt", []byte("1")))
	require.NoError(t, fs.Mkdir("dir"))

	entries, err := fs.ListAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
