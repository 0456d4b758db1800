package blockdev

import (
	"encoding/binary"

	"github.com/lynafyna/chilena/internal/crc16"
	"github.com/lynafyna/chilena/pkg/kerr"
	"golang.org/x/sys/unix"
)

// SectorSize is the fixed block device sector size.
const SectorSize = 512

// crcTrailerSize is the CRC16 trailer internal/crc16 adds to every sector
// this backend persists, invisible to anything above the Device interface.
const crcTrailerSize = 2
const strideSize = SectorSize + crcTrailerSize

// Backend is the persistence target a Device issues sector I/O against —
// the host-file stand-in for the physical medium behind a real VirtIO
// block device.
type Backend interface {
	Capacity() uint64
	ReadAt(sector uint64, out *[SectorSize]byte) error
	WriteAt(sector uint64, in *[SectorSize]byte) error
	Close() error
}

// FileBackend persists sectors to a real host file via raw pread/pwrite.
type FileBackend struct {
	fd       int
	capacity uint64
}

// OpenFileBackend opens (creating if necessary) a backing file sized for
// capacity sectors, each stored as its 512-byte payload plus a 2-byte
// CRC16 trailer.
func OpenFileBackend(path string, capacity uint64) (*FileBackend, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(capacity * strideSize)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &FileBackend{fd: fd, capacity: capacity}, nil
}

func (b *FileBackend) Capacity() uint64 { return b.capacity }

func (b *FileBackend) Close() error { return unix.Close(b.fd) }

func (b *FileBackend) offset(sector uint64) int64 { return int64(sector * strideSize) }

func (b *FileBackend) ReadAt(sector uint64, out *[SectorSize]byte) error {
	var raw [strideSize]byte
	n, err := unix.Pread(b.fd, raw[:], b.offset(sector))
	if err != nil {
		return kerr.ErrDeviceError
	}
	if n != strideSize {
		return kerr.ErrDeviceError
	}
	data := raw[:SectorSize]
	stored := binary.LittleEndian.Uint16(raw[SectorSize:])
	if crc16.Of(data) != stored {
		return kerr.ErrDeviceError
	}
	copy(out[:], data)
	return nil
}

func (b *FileBackend) WriteAt(sector uint64, in *[SectorSize]byte) error {
	var raw [strideSize]byte
	copy(raw[:SectorSize], in[:])
	binary.LittleEndian.PutUint16(raw[SectorSize:], crc16.Of(in[:]))
	n, err := unix.Pwrite(b.fd, raw[:], b.offset(sector))
	if err != nil || n != strideSize {
		return kerr.ErrDeviceError
	}
	return nil
}
