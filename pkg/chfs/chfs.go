package chfs

import (
	"path"
	"sync"

	"github.com/lynafyna/chilena/pkg/kerr"
	"github.com/lynafyna/chilena/pkg/klog"
)

var log = klog.For("chfs")

// SectorDevice is the block device surface this filesystem needs — the
// subset of pkg/blockdev.Device's method set, kept as a local interface so
// chfs never imports blockdev directly.
type SectorDevice interface {
	ReadSector(n uint64, out *[SectorSize]byte) error
	WriteSector(n uint64, in *[SectorSize]byte) error
}

// Filesystem is the flat, fixed-capacity filesystem backing program
// storage: a superblock, a 64-entry inode table, and a sequential data
// region with monotonic allocation and no reclamation on delete.
type Filesystem struct {
	mu         sync.Mutex
	dev        SectorDevice
	mounted    bool
	superblock Superblock
	nextSector uint64
}

// New wires a Filesystem to the sector device it will format/mount on.
func New(dev SectorDevice) *Filesystem {
	return &Filesystem{dev: dev}
}

// Format writes a fresh superblock and zeroes the inode table, discarding
// anything previously stored.
func (f *Filesystem) Format() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.superblock = NewSuperblock()
	sbBuf := f.superblock.encode()
	if err := f.dev.WriteSector(SuperblockSector, &sbBuf); err != nil {
		return err
	}

	var zero [SectorSize]byte
	for s := 0; s < InodeTableSectors; s++ {
		if err := f.dev.WriteSector(uint64(InodeTableStart+s), &zero); err != nil {
			return err
		}
	}

	f.nextSector = DataStart
	f.mounted = true
	log.Info("chfs: formatted")
	return nil
}

// Mount reads the superblock and inode table, reconstructing the
// allocator cursor from the furthest inode extent on disk. Returns false
// (not an error) when the device holds no recognizable filesystem.
func (f *Filesystem) Mount() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	var sbBuf [SectorSize]byte
	if err := f.dev.ReadSector(SuperblockSector, &sbBuf); err != nil {
		return false
	}
	sb := decodeSuperblock(sbBuf)
	if !sb.Valid() {
		return false
	}

	next := uint64(DataStart)
	for i := 0; i < MaxInodes; i++ {
		in, err := f.readInode(i)
		if err != nil {
			return false
		}
		if in.Flags == InodeFree {
			continue
		}
		end := uint64(in.StartSector) + uint64(in.BlockCount)
		if end > next {
			next = end
		}
	}

	f.superblock = sb
	f.nextSector = next
	f.mounted = true
	log.WithField("next_sector", next).Info("chfs: mounted")
	return true
}

// IsMounted reports whether Format or Mount has succeeded.
func (f *Filesystem) IsMounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}

// Info returns the used inode count, the first data sector, and the
// allocator's next free sector.
func (f *Filesystem) Info() (inodeCount uint32, dataStart uint32, nextSector uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.superblock.InodeCount, f.superblock.DataStart, f.nextSector
}

func (f *Filesystem) inodeLocation(id int) (sector uint64, offset int) {
	sector = uint64(InodeTableStart + id/InodesPerSector)
	offset = (id % InodesPerSector) * InodeSize
	return
}

func (f *Filesystem) readInode(id int) (Inode, error) {
	sector, offset := f.inodeLocation(id)
	var buf [SectorSize]byte
	if err := f.dev.ReadSector(sector, &buf); err != nil {
		return Inode{}, err
	}
	var raw [InodeSize]byte
	copy(raw[:], buf[offset:offset+InodeSize])
	return decodeInode(raw), nil
}

func (f *Filesystem) writeInode(id int, in Inode) error {
	sector, offset := f.inodeLocation(id)
	var buf [SectorSize]byte
	if err := f.dev.ReadSector(sector, &buf); err != nil {
		return err
	}
	raw := in.encode()
	copy(buf[offset:offset+InodeSize], raw[:])
	return f.dev.WriteSector(sector, &buf)
}

func (f *Filesystem) findFreeInode() (int, error) {
	for i := 0; i < MaxInodes; i++ {
		in, err := f.readInode(i)
		if err != nil {
			return 0, err
		}
		if in.Flags == InodeFree {
			return i, nil
		}
	}
	return 0, kerr.ErrNoFreeInodes
}

func (f *Filesystem) findByName(name string) (int, Inode, bool, error) {
	for i := 0; i < MaxInodes; i++ {
		in, err := f.readInode(i)
		if err != nil {
			return 0, Inode{}, false, err
		}
		if in.Flags != InodeFree && in.NameString() == name {
			return i, in, true, nil
		}
	}
	return 0, Inode{}, false, nil
}

func baseName(name string) string {
	return path.Base(name)
}

// WriteFile creates or overwrites the named file with data. The path is
// resolved to its basename — this filesystem is flat, with no directory
// traversal. An existing inode of the same name is freed before
// allocating the new one; the freed data sectors are not reused by this
// write, since the allocator only ever grows and never reclaims on
// delete.
func (f *Filesystem) WriteFile(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return kerr.ErrNotMounted
	}
	base := baseName(name)
	if len(base) > MaxNameLen {
		return kerr.ErrNameTooLong
	}

	if id, existing, ok, err := f.findByName(base); err != nil {
		return err
	} else if ok {
		existing.Flags = InodeFree
		existing.Size = 0
		existing.StartSector = 0
		existing.BlockCount = 0
		if err := f.writeInode(id, existing); err != nil {
			return err
		}
		f.superblock.InodeCount--
	}

	id, err := f.findFreeInode()
	if err != nil {
		return err
	}

	blockCount := (len(data) + SectorSize - 1) / SectorSize
	if blockCount == 0 {
		blockCount = 1
	}
	startSector := f.nextSector

	for b := 0; b < blockCount; b++ {
		var buf [SectorSize]byte
		lo := b * SectorSize
		hi := lo + SectorSize
		if hi > len(data) {
			hi = len(data)
		}
		if lo < len(data) {
			copy(buf[:], data[lo:hi])
		}
		if err := f.dev.WriteSector(startSector+uint64(b), &buf); err != nil {
			return err
		}
	}

	in := Inode{Flags: InodeFile, Size: uint32(len(data)), StartSector: uint32(startSector), BlockCount: uint16(blockCount)}
	in.SetName(base)
	if err := f.writeInode(id, in); err != nil {
		return err
	}

	f.nextSector = startSector + uint64(blockCount)
	f.superblock.InodeCount++
	sbBuf := f.superblock.encode()
	if err := f.dev.WriteSector(SuperblockSector, &sbBuf); err != nil {
		return err
	}

	log.WithField("name", base).WithField("size", len(data)).Debug("chfs: wrote file")
	return nil
}

// ReadFile returns the full contents of the named file.
func (f *Filesystem) ReadFile(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return nil, kerr.ErrNotMounted
	}
	base := baseName(name)
	_, in, ok, err := f.findByName(base)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kerr.ErrNotFound
	}
	if in.Flags != InodeFile {
		return nil, kerr.ErrNotAFile
	}

	data := make([]byte, 0, in.Size)
	remaining := int(in.Size)
	for b := 0; b < int(in.BlockCount); b++ {
		var buf [SectorSize]byte
		if err := f.dev.ReadSector(uint64(in.StartSector)+uint64(b), &buf); err != nil {
			return nil, err
		}
		take := SectorSize
		if take > remaining {
			take = remaining
		}
		data = append(data, buf[:take]...)
		remaining -= take
	}
	return data, nil
}

// Mkdir creates a zero-length directory inode; chfs never traverses into
// it — directories are markers only.
func (f *Filesystem) Mkdir(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return kerr.ErrNotMounted
	}
	base := baseName(name)
	if len(base) > MaxNameLen {
		return kerr.ErrNameTooLong
	}
	if _, _, ok, err := f.findByName(base); err != nil {
		return err
	} else if ok {
		return nil
	}

	id, err := f.findFreeInode()
	if err != nil {
		return err
	}
	in := Inode{Flags: InodeDir}
	in.SetName(base)
	if err := f.writeInode(id, in); err != nil {
		return err
	}

	f.superblock.InodeCount++
	sbBuf := f.superblock.encode()
	return f.dev.WriteSector(SuperblockSector, &sbBuf)
}

// Exists reports whether name has a live inode of any kind.
func (f *Filesystem) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted {
		return false
	}
	_, _, ok, err := f.findByName(baseName(name))
	return err == nil && ok
}

// Remove frees the named inode. Its data sectors are never reclaimed —
// the allocator cursor only ever advances.
func (f *Filesystem) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return kerr.ErrNotMounted
	}
	id, in, ok, err := f.findByName(baseName(name))
	if err != nil {
		return err
	}
	if !ok {
		return kerr.ErrNotFound
	}

	in.Flags = InodeFree
	in.Size = 0
	in.StartSector = 0
	in.BlockCount = 0
	if err := f.writeInode(id, in); err != nil {
		return err
	}

	f.superblock.InodeCount--
	sbBuf := f.superblock.encode()
	return f.dev.WriteSector(SuperblockSector, &sbBuf)
}

// ListAll returns every live inode as a FileInfo, in inode-table order.
func (f *Filesystem) ListAll() ([]FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return nil, kerr.ErrNotMounted
	}
	var out []FileInfo
	for i := 0; i < MaxInodes; i++ {
		in, err := f.readInode(i)
		if err != nil {
			return nil, err
		}
		if in.Flags == InodeFree {
			continue
		}
		out = append(out, FileInfo{
			Name:    in.NameString(),
			Size:    in.Size,
			IsDir:   in.Flags == InodeDir,
			InodeID: i,
		})
	}
	return out, nil
}
