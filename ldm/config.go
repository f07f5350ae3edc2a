package ldm

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/mdbooth/libldm/ldmerr"
)

// Offsets below mirror the packed structs _tocblock, _tocblock_bitmap,
// and _vmdb from ldm.c.
const (
	tocBlockOffset = 0x400 // 2 sectors in, at 512-byte sector size

	tocBlockMagicLen  = 8
	tocBlockBitmapOff = 36 // offset of bitmap[0] within the TOCBLOCK
	tocBlockBitmapLen = 34 // sizeof(struct _tocblock_bitmap)

	bitmapNameLen   = 8
	bitmapStartOff  = 10 // within one bitmap entry

	vmdbMagicLen            = 4
	vmdbVblkSizeOff         = 8
	vmdbVblkFirstOffsetOff  = 12
	vmdbCommittedSeqOff     = 117
	vmdbNCommittedVolOff    = 133
	vmdbNCommittedCompOff   = 137
	vmdbNCommittedPartOff   = 141
	vmdbNCommittedDiskOff   = 145
	vmdbHeaderMinSize       = 149
)

// vmdbHeader is the decoded VMDB header: the VBLK database's own
// metadata (spec.md §4.3). data holds the whole in-memory config
// region; vblkFirstOffset/vblkSize let vblk.go walk the VBLK stream
// without re-reading the device.
type vmdbHeader struct {
	data []byte

	vblkSize         uint32
	vblkFirstOffset  uint32
	committedSeq     uint64
	counts           vmdbCounts
	// offsetInConfig is the byte offset of the VMDB block within data,
	// i.e. within the config region — vblk.go needs it to report
	// absolute config offsets in error messages.
	offsetInConfig int
}

// readConfig reads the whole LDM config region into memory, verifying
// it lies entirely within the device (spec.md §4.3).
func readConfig(r io.ReaderAt, deviceSize uint64, ph *privHead, sectorSize uint64) ([]byte, error) {
	configStart := ph.configStart * sectorSize
	configSize := ph.configSize * sectorSize

	if configStart > deviceSize {
		return nil, ldmerr.New(ldmerr.Invalid, "LDM config start 0x%x is outside the device", configStart)
	}
	if configStart+configSize > deviceSize {
		return nil, ldmerr.New(ldmerr.Invalid, "LDM config end 0x%x is outside the device", configStart+configSize)
	}

	buf := make([]byte, configSize)
	if _, err := r.ReadAt(buf, int64(configStart)); err != nil {
		return nil, ldmerr.Wrap(ldmerr.Io, err, "reading LDM config region")
	}
	return buf, nil
}

// findVMDB locates the TOCBLOCK within the config region and, via its
// "config" bitmap descriptor, the VMDB (spec.md §4.3).
func findVMDB(config []byte, sectorSize uint64) (*vmdbHeader, error) {
	if int(tocBlockOffset)+tocBlockMagicLen > len(config) {
		return nil, ldmerr.New(ldmerr.Invalid, "config region too small to contain a TOCBLOCK")
	}

	toc := config[tocBlockOffset:]
	if !bytes.Equal(toc[:tocBlockMagicLen], []byte("TOCBLOCK")) {
		return nil, ldmerr.New(ldmerr.Invalid, "TOCBLOCK magic not found at config offset 0x%x", tocBlockOffset)
	}

	var vmdbStart uint64
	var haveStart bool
	for i := 0; i < 2; i++ {
		off := tocBlockBitmapOff + i*tocBlockBitmapLen
		entry := toc[off : off+tocBlockBitmapLen]
		name := cstringField(entry[:bitmapNameLen])
		if name == "config" {
			vmdbStart = binary.BigEndian.Uint64(entry[bitmapStartOff:]) * sectorSize
			haveStart = true
			break
		}
	}
	if !haveStart {
		return nil, ldmerr.New(ldmerr.Invalid, "TOCBLOCK does not contain a \"config\" bitmap entry")
	}

	if vmdbStart+vmdbHeaderMinSize > uint64(len(config)) {
		return nil, ldmerr.New(ldmerr.Invalid, "VMDB offset 0x%x is outside the config region", vmdbStart)
	}

	vmdb := config[vmdbStart:]
	if !bytes.Equal(vmdb[:vmdbMagicLen], []byte("VMDB")) {
		return nil, ldmerr.New(ldmerr.Invalid, "VMDB magic not found at config offset 0x%x", vmdbStart)
	}

	h := &vmdbHeader{
		data:            config,
		vblkSize:        binary.BigEndian.Uint32(vmdb[vmdbVblkSizeOff:]),
		vblkFirstOffset: binary.BigEndian.Uint32(vmdb[vmdbVblkFirstOffsetOff:]),
		committedSeq:    binary.BigEndian.Uint64(vmdb[vmdbCommittedSeqOff:]),
		counts: vmdbCounts{
			volumes:    binary.BigEndian.Uint32(vmdb[vmdbNCommittedVolOff:]),
			components: binary.BigEndian.Uint32(vmdb[vmdbNCommittedCompOff:]),
			partitions: binary.BigEndian.Uint32(vmdb[vmdbNCommittedPartOff:]),
			disks:      binary.BigEndian.Uint32(vmdb[vmdbNCommittedDiskOff:]),
		},
		offsetInConfig: int(vmdbStart),
	}

	return h, nil
}
