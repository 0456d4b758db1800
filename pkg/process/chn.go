// Package process implements the CHN executable format, the process
// table, and the process manager.
package process

import (
	"encoding/binary"

	"github.com/lynafyna/chilena/pkg/kerr"
)

// HeaderSize is the fixed CHN header length in bytes.
const HeaderSize = 32

var magic = [4]byte{0x7F, 'C', 'H', 'N'}

const targetArchX86_64 = 0x01

// Header is a parsed CHN executable header: magic and checksum already
// verified by ParseHeader.
type Header struct {
	Version     uint16
	Flags       uint16
	EntryOffset uint32
	CodeSize    uint32
	DataSize    uint32
	StackSize   uint32
	MinMemory   uint32
	TargetArch  uint16
	OSVersion   uint8
	Checksum    uint8
}

// ParseHeader validates and decodes a CHN header from the front of bin:
// magic, an XOR checksum over the first 31 bytes, a supported
// architecture, and that bin is at least as long as the header plus the
// declared code and data sections.
func ParseHeader(bin []byte) (Header, error) {
	if len(bin) < HeaderSize {
		log.WithField("len", len(bin)).Warn("chn: image shorter than header")
		return Header{}, kerr.ErrInvalidExecutable
	}
	if bin[0] != magic[0] || bin[1] != magic[1] || bin[2] != magic[2] || bin[3] != magic[3] {
		log.Warn("chn: bad magic")
		return Header{}, kerr.ErrInvalidExecutable
	}

	var checksum byte
	for _, b := range bin[:31] {
		checksum ^= b
	}
	if checksum != bin[31] {
		log.WithField("got", bin[31]).WithField("expected", checksum).Warn("chn: checksum mismatch")
		return Header{}, kerr.ErrInvalidExecutable
	}

	h := Header{
		Version:     binary.LittleEndian.Uint16(bin[4:6]),
		Flags:       binary.LittleEndian.Uint16(bin[6:8]),
		EntryOffset: binary.LittleEndian.Uint32(bin[8:12]),
		CodeSize:    binary.LittleEndian.Uint32(bin[12:16]),
		DataSize:    binary.LittleEndian.Uint32(bin[16:20]),
		StackSize:   binary.LittleEndian.Uint32(bin[20:24]),
		MinMemory:   binary.LittleEndian.Uint32(bin[24:28]),
		TargetArch:  binary.LittleEndian.Uint16(bin[28:30]),
		OSVersion:   bin[30],
		Checksum:    bin[31],
	}

	if h.TargetArch != targetArchX86_64 {
		log.WithField("arch", h.TargetArch).Warn("chn: unsupported arch")
		return Header{}, kerr.ErrInvalidExecutable
	}

	totalExpected := HeaderSize + int(h.CodeSize) + int(h.DataSize)
	if len(bin) < totalExpected {
		log.WithField("len", len(bin)).WithField("expected", totalExpected).Warn("chn: binary too small")
		return Header{}, kerr.ErrInvalidExecutable
	}

	return h, nil
}

// EncodeHeader is the inverse of ParseHeader, used by tests to build
// well-formed CHN images without hand-computing the checksum. A zero
// TargetArch is encoded as x86_64.
func EncodeHeader(h Header) [HeaderSize]byte {
	if h.TargetArch == 0 {
		h.TargetArch = targetArchX86_64
	}
	var buf [HeaderSize]byte
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.EntryOffset)
	binary.LittleEndian.PutUint32(buf[12:16], h.CodeSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.DataSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.StackSize)
	binary.LittleEndian.PutUint32(buf[24:28], h.MinMemory)
	binary.LittleEndian.PutUint16(buf[28:30], h.TargetArch)
	buf[30] = h.OSVersion

	var checksum byte
	for _, b := range buf[:31] {
		checksum ^= b
	}
	buf[31] = checksum
	return buf
}
