package ldm

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/mdbooth/libldm/ldm/internal/gptpart"
	"github.com/mdbooth/libldm/ldm/internal/mbrpart"
	"github.com/mdbooth/libldm/ldmerr"
)

// privHead mirrors the fixed, packed struct _privhead from ldm.c
// field-for-field; offsets below are absolute byte positions within
// the 391-byte on-disk structure, computed the way the C compiler
// would lay out a packed struct of the same fields.
const (
	privHeadSize = 391

	privHeadMagicOff         = 0
	privHeadMagicLen         = 8
	privHeadDiskGUIDOff      = 48
	privHeadDiskGUIDLen      = 64
	privHeadDiskGroupGUIDOff = 176
	privHeadDiskGroupGUIDLen = 64
	privHeadLogicalStartOff  = 283
	privHeadLogicalSizeOff   = 291
	privHeadConfigStartOff   = 299
	privHeadConfigSizeOff    = 307
)

// privHead is the decoded PRIVHEAD: per-disk LDM metadata identifying
// the disk, its disk group, and the location of the config region
// (spec.md §4.2).
type privHead struct {
	diskGUID      string
	diskGroupGUID string

	logicalDiskStart uint64
	logicalDiskSize  uint64
	configStart      uint64
	configSize       uint64
}

// locatePrivHead implements spec.md §4.2: read sector 0 to determine
// whether the device is MBR-LDM, protective-MBR/GPT, or neither, then
// read and validate the PRIVHEAD at the resulting offset.
func locatePrivHead(r io.ReaderAt, sectorSize uint64) (*privHead, error) {
	firstType, err := mbrpart.FirstPartitionType(r)
	if err != nil {
		return nil, err
	}

	switch firstType {
	case 0x42: // Windows LDM
		return readPrivHeadAt(r, 6*sectorSize)

	case 0xEE: // protective MBR: consult GPT
		lastLBA, found, err := gptpart.FindLastLBA(r, int(sectorSize), int(sectorSize))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ldmerr.New(ldmerr.NotLdm, "GPT disk does not contain an LDM metadata partition")
		}
		return readPrivHeadAt(r, lastLBA*sectorSize)

	default:
		return nil, ldmerr.New(ldmerr.NotLdm, "first MBR partition type 0x%02x is neither LDM (0x42) nor protective (0xEE)", firstType)
	}
}

func readPrivHeadAt(r io.ReaderAt, offset uint64) (*privHead, error) {
	buf := make([]byte, privHeadSize)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return nil, ldmerr.Wrap(ldmerr.Io, err, "reading PRIVHEAD at offset 0x%x", offset)
	}

	if !bytes.Equal(buf[privHeadMagicOff:privHeadMagicOff+privHeadMagicLen], []byte("PRIVHEAD")) {
		return nil, ldmerr.New(ldmerr.Invalid, "PRIVHEAD magic not found at offset 0x%x", offset)
	}

	ph := &privHead{
		diskGUID:         cstringField(buf[privHeadDiskGUIDOff : privHeadDiskGUIDOff+privHeadDiskGUIDLen]),
		diskGroupGUID:    cstringField(buf[privHeadDiskGroupGUIDOff : privHeadDiskGroupGUIDOff+privHeadDiskGroupGUIDLen]),
		logicalDiskStart: binary.BigEndian.Uint64(buf[privHeadLogicalStartOff:]),
		logicalDiskSize:  binary.BigEndian.Uint64(buf[privHeadLogicalSizeOff:]),
		configStart:      binary.BigEndian.Uint64(buf[privHeadConfigStartOff:]),
		configSize:       binary.BigEndian.Uint64(buf[privHeadConfigSizeOff:]),
	}

	return ph, nil
}

// cstringField trims a fixed-width buffer at its first NUL byte,
// matching how the original reads a C string out of a fixed-size field.
func cstringField(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
