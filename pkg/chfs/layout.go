// Package chfs implements the on-disk filesystem: a flat, fixed-capacity
// filesystem layered over a block device, with a superblock, an inode
// table, and a sequential data-region allocator.
package chfs

import "encoding/binary"

// SectorSize is the block device sector size this filesystem is built on.
const SectorSize = 512

const (
	Magic   uint32 = 0x43484653 // 'C','H','F','S' little-endian
	Version uint32 = 1

	InodeSize         = 64
	InodesPerSector   = SectorSize / InodeSize // 8
	InodeTableSectors = 8
	MaxInodes         = InodesPerSector * InodeTableSectors // 64

	SuperblockSector = 0
	InodeTableStart  = 1
	DataStart        = 9

	MaxNameLen = 47
)

// Inode flag values.
const (
	InodeFree uint8 = 0
	InodeFile uint8 = 1
	InodeDir  uint8 = 2
)

// Superblock is sector 0: magic, version, used inode count, and the first
// data sector.
type Superblock struct {
	Magic      uint32
	Version    uint32
	InodeCount uint32
	DataStart  uint32
}

// NewSuperblock returns a freshly formatted superblock.
func NewSuperblock() Superblock {
	return Superblock{Magic: Magic, Version: Version, DataStart: DataStart}
}

// Valid reports whether magic and version match what this filesystem
// writes; mount() treats a mismatch as "not formatted", not an error.
func (s Superblock) Valid() bool {
	return s.Magic == Magic && s.Version == Version
}

func (s Superblock) encode() [SectorSize]byte {
	var buf [SectorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], s.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.Version)
	binary.LittleEndian.PutUint32(buf[8:12], s.InodeCount)
	binary.LittleEndian.PutUint32(buf[12:16], s.DataStart)
	return buf
}

func decodeSuperblock(buf [SectorSize]byte) Superblock {
	return Superblock{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		InodeCount: binary.LittleEndian.Uint32(buf[8:12]),
		DataStart:  binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// Inode is a 64-byte filesystem metadata record: flags, a 48-byte
// NUL-padded name, a 32-bit size, a 32-bit start sector, and a 16-bit
// block count.
type Inode struct {
	Flags       uint8
	Name        [48]byte
	Size        uint32
	StartSector uint32
	BlockCount  uint16
}

// NameString returns the NUL-terminated name as a Go string.
func (n Inode) NameString() string {
	end := len(n.Name)
	for i, b := range n.Name {
		if b == 0 {
			end = i
			break
		}
	}
	return string(n.Name[:end])
}

// SetName stores name, truncated to MaxNameLen (the caller is expected to
// have already rejected names over the limit).
func (n *Inode) SetName(name string) {
	n.Name = [48]byte{}
	copy(n.Name[:MaxNameLen], name)
}

func (n Inode) encode() [InodeSize]byte {
	var buf [InodeSize]byte
	buf[0] = n.Flags
	copy(buf[1:49], n.Name[:])
	binary.LittleEndian.PutUint32(buf[49:53], n.Size)
	binary.LittleEndian.PutUint32(buf[53:57], n.StartSector)
	binary.LittleEndian.PutUint16(buf[57:59], n.BlockCount)
	return buf
}

func decodeInode(buf [InodeSize]byte) Inode {
	var in Inode
	in.Flags = buf[0]
	copy(in.Name[:], buf[1:49])
	in.Size = binary.LittleEndian.Uint32(buf[49:53])
	in.StartSector = binary.LittleEndian.Uint32(buf[53:57])
	in.BlockCount = binary.LittleEndian.Uint16(buf[57:59])
	return in
}

// FileInfo is the externally visible directory-listing record — no
// pointer into disk structures.
type FileInfo struct {
	Name    string
	Size    uint32
	IsDir   bool
	InodeID int
}
