package ldm

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/mdbooth/libldm/ldmerr"
)

const (
	vblkEntryHeadSize = 16 // magic[4] + seq u32 + record_id u32 + entry u16 + entries_total u16
	vblkRecHeadSize   = 8  // status u16 + flags u8 + type u8 + size u32
)

type spannedRec struct {
	recordID      uint32
	entriesTotal  uint16
	entriesFound  uint16
	buf           []byte
	offset        int
}

// parseVBLKs walks the VBLK stream described by vmdb (spec.md §4.4,
// §4.5), reassembling spanned records, decoding each complete record,
// and populating a fresh DiskGroup's disks/partitions/components/
// volumes. It does not link them — that is link.go's job.
func parseVBLKs(vmdb *vmdbHeader) (*DiskGroup, error) {
	dg := &DiskGroup{
		Sequence: vmdb.committedSeq,
		counts:   vmdb.counts,
	}

	vblkDataSize := int(vmdb.vblkSize) - vblkEntryHeadSize
	if vblkDataSize <= 0 {
		return nil, ldmerr.New(ldmerr.Invalid, "VMDB vblk_size %d is too small to contain an entry head", vmdb.vblkSize)
	}

	pos := vmdb.offsetInConfig + int(vmdb.vblkFirstOffset)
	data := vmdb.data

	spanned := make([]*spannedRec, 0)
	spannedByID := make(map[uint32]*spannedRec)

	for {
		if pos+vblkEntryHeadSize > len(data) {
			break
		}
		head := data[pos : pos+vblkEntryHeadSize]
		if !bytes.Equal(head[0:4], []byte("VBLK")) {
			break
		}

		recordID := binary.BigEndian.Uint32(head[8:12])
		entry := binary.BigEndian.Uint16(head[12:14])
		entriesTotal := binary.BigEndian.Uint16(head[14:16])

		if entriesTotal > 0 && entry >= entriesTotal {
			return nil, ldmerr.New(ldmerr.Invalid, "VBLK entry %d has entry (%d) >= entries_total (%d)", recordID, entry, entriesTotal)
		}

		fragOff := pos + vblkEntryHeadSize
		if fragOff+vblkDataSize > len(data) {
			return nil, ldmerr.New(ldmerr.Invalid, "VBLK entry at config offset 0x%x runs past the config region", pos)
		}
		fragment := data[fragOff : fragOff+vblkDataSize]
		recordOffset := pos

		if entriesTotal > 1 {
			r, ok := spannedByID[recordID]
			if !ok {
				r = &spannedRec{
					recordID:     recordID,
					entriesTotal: entriesTotal,
					buf:          make([]byte, int(entriesTotal)*vblkDataSize),
					offset:       recordOffset,
				}
				spannedByID[recordID] = r
				spanned = append(spanned, r)
			}
			copy(r.buf[int(entry)*vblkDataSize:], fragment)
			r.entriesFound++
		} else {
			if err := parseVBLKRecord(fragment, dg, recordOffset); err != nil {
				return nil, err
			}
		}

		pos = fragOff + vblkDataSize
	}

	for _, r := range spanned {
		if r.entriesFound != r.entriesTotal {
			return nil, ldmerr.New(ldmerr.Invalid, "expected to find %d entries for record %d, but found %d", r.entriesTotal, r.recordID, r.entriesFound)
		}
		if err := parseVBLKRecord(r.buf, dg, r.offset); err != nil {
			return nil, err
		}
	}

	if uint32(len(dg.Disks)) != dg.counts.disks {
		return nil, ldmerr.New(ldmerr.Invalid, "expected %d disk VBLKs, but found %d", dg.counts.disks, len(dg.Disks))
	}
	if uint32(len(dg.components)) != dg.counts.components {
		return nil, ldmerr.New(ldmerr.Invalid, "expected %d component VBLKs, but found %d", dg.counts.components, len(dg.components))
	}
	if uint32(len(dg.Partitions)) != dg.counts.partitions {
		return nil, ldmerr.New(ldmerr.Invalid, "expected %d partition VBLKs, but found %d", dg.counts.partitions, len(dg.Partitions))
	}
	if uint32(len(dg.Volumes)) != dg.counts.volumes {
		return nil, ldmerr.New(ldmerr.Invalid, "expected %d volume VBLKs, but found %d", dg.counts.volumes, len(dg.Volumes))
	}

	return dg, nil
}

// parseVBLKRecord decodes one complete (possibly reassembled) VBLK
// record and appends the resulting object to dg.
func parseVBLKRecord(data []byte, dg *DiskGroup, offset int) error {
	if len(data) < vblkRecHeadSize {
		return ldmerr.New(ldmerr.Invalid, "VBLK record at config offset 0x%x is too short for a record head", offset)
	}

	flags := data[2]
	typeByte := data[3]
	kind := typeByte & 0x0F
	revision := (typeByte & 0xF0) >> 4

	c := newCursor(data[vblkRecHeadSize:])

	switch kind {
	case 0x00: // blank
		return nil

	case 0x01:
		vol, err := parseVolume(c, revision, flags)
		if err != nil {
			return err
		}
		dg.Volumes = append(dg.Volumes, vol)
		return nil

	case 0x02:
		comp, err := parseComponent(c, revision, flags)
		if err != nil {
			return err
		}
		dg.components = append(dg.components, comp)
		return nil

	case 0x03:
		part, err := parsePartition(c, revision, flags)
		if err != nil {
			return err
		}
		dg.Partitions = append(dg.Partitions, part)
		return nil

	case 0x04:
		disk, err := parseDisk(c, revision)
		if err != nil {
			return err
		}
		dg.Disks = append(dg.Disks, disk)
		return nil

	case 0x05:
		id, name, err := parseDiskGroupRecord(c, revision)
		if err != nil {
			return err
		}
		dg.id = id
		dg.Name = name
		return nil

	default:
		return ldmerr.New(ldmerr.NotSupported, "unknown VBLK record kind 0x%x at config offset 0x%x", kind, offset)
	}
}

func parseVolume(c *cursor, revision, flags byte) (*Volume, error) {
	if revision != 5 {
		return nil, ldmerr.New(ldmerr.NotSupported, "unsupported volume VBLK revision %d", revision)
	}

	id, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	name, err := c.varStr()
	if err != nil {
		return nil, err
	}
	if err := c.varSkip(); err != nil { // type-string, parsed elsewhere
		return nil, err
	}
	if err := c.varSkip(); err != nil { // unknown
		return nil, err
	}
	if err := c.skip(14); err != nil { // volume state
		return nil, err
	}

	intKind, err := c.u8()
	if err != nil {
		return nil, err
	}
	switch internalVolumeKind(intKind) {
	case volumeKindGen, volumeKindRaid5:
	default:
		return nil, ldmerr.New(ldmerr.NotSupported, "unsupported volume VBLK internal type 0x%x", intKind)
	}

	if err := c.skip(1); err != nil { // unknown
		return nil, err
	}
	if err := c.skip(1); err != nil { // volume number
		return nil, err
	}
	if err := c.skip(3); err != nil { // zeroes
		return nil, err
	}

	recFlags, err := c.u8()
	if err != nil {
		return nil, err
	}

	nComps, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	if err := c.skip(8); err != nil { // commit id
		return nil, err
	}
	if err := c.skip(8); err != nil { // id?
		return nil, err
	}

	size, err := c.varInt64()
	if err != nil {
		return nil, err
	}
	if err := c.skip(4); err != nil { // zeroes
		return nil, err
	}

	partType, err := c.u8()
	if err != nil {
		return nil, err
	}

	guidBytes, err := c.bytes(16)
	if err != nil {
		return nil, err
	}

	vol := &Volume{
		id:           id,
		Name:         name,
		GUID:         formatGUIDBytes(guidBytes),
		internalKind: internalVolumeKind(intKind),
		nComps:       nComps,
		Size:         size,
		PartType:     partType,
	}

	if recFlags&0x08 != 0 {
		if _, err := c.varStr(); err != nil { // id1, unused downstream
			return nil, err
		}
	}
	if recFlags&0x20 != 0 {
		if _, err := c.varStr(); err != nil { // id2, unused downstream
			return nil, err
		}
	}
	if recFlags&0x80 != 0 {
		if _, err := c.varInt64(); err != nil { // size2, unused downstream
			return nil, err
		}
	}
	if recFlags&0x02 != 0 {
		hint, err := c.varStr()
		if err != nil {
			return nil, err
		}
		vol.DriveHint = hint
	}

	return vol, nil
}

func parseComponent(c *cursor, revision, flags byte) (*component, error) {
	if revision != 3 {
		return nil, ldmerr.New(ldmerr.NotSupported, "unsupported component VBLK revision %d", revision)
	}

	id, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	if err := c.varSkip(); err != nil { // name
		return nil, err
	}
	if err := c.varSkip(); err != nil { // state
		return nil, err
	}

	kindByte, err := c.u8()
	if err != nil {
		return nil, err
	}
	kind := ComponentKind(kindByte)
	switch kind {
	case ComponentStriped, ComponentSpanned, ComponentRaid:
	default:
		return nil, ldmerr.New(ldmerr.NotSupported, "component VBLK id=%d has unsupported kind %d", id, kindByte)
	}

	if err := c.skip(4); err != nil { // zeroes
		return nil, err
	}

	nParts, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	if err := c.skip(8); err != nil { // log commit id
		return nil, err
	}
	if err := c.skip(8); err != nil { // zeroes
		return nil, err
	}

	parentID, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	if err := c.skip(1); err != nil { // zeroes
		return nil, err
	}

	comp := &component{
		id:       id,
		parentID: parentID,
		kind:     kind,
		nParts:   nParts,
	}

	if flags&0x10 != 0 {
		chunkSize, err := c.varInt64()
		if err != nil {
			return nil, err
		}
		nColumns, err := c.varInt32()
		if err != nil {
			return nil, err
		}
		comp.chunkSize = chunkSize
		comp.nColumns = nColumns
	}

	return comp, nil
}

func parsePartition(c *cursor, revision, flags byte) (*Partition, error) {
	if revision != 3 {
		return nil, ldmerr.New(ldmerr.NotSupported, "unsupported partition VBLK revision %d", revision)
	}

	id, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	name, err := c.varStr()
	if err != nil {
		return nil, err
	}
	if err := c.skip(4); err != nil { // zeroes
		return nil, err
	}
	if err := c.skip(8); err != nil { // log commit id
		return nil, err
	}

	start, err := c.u64()
	if err != nil {
		return nil, err
	}
	volOffset, err := c.u64()
	if err != nil {
		return nil, err
	}
	size, err := c.varInt64()
	if err != nil {
		return nil, err
	}
	parentID, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	diskID, err := c.varInt32()
	if err != nil {
		return nil, err
	}

	part := &Partition{
		id:          id,
		Name:        name,
		Start:       start,
		VolOffset:   volOffset,
		Size:        size,
		componentID: parentID,
		diskID:      diskID,
	}

	if flags&0x08 != 0 {
		index, err := c.varInt32()
		if err != nil {
			return nil, err
		}
		part.Index = index
	}

	return part, nil
}

func parseDisk(c *cursor, revision byte) (*Disk, error) {
	id, err := c.varInt32()
	if err != nil {
		return nil, err
	}
	name, err := c.varStr()
	if err != nil {
		return nil, err
	}

	disk := &Disk{id: id, Name: name}

	switch revision {
	case 3:
		guid, err := c.varStr()
		if err != nil {
			return nil, err
		}
		disk.GUID = guid

	case 4:
		guidBytes, err := c.bytes(16)
		if err != nil {
			return nil, err
		}
		disk.GUID = formatGUIDBytes(guidBytes)

	default:
		return nil, ldmerr.New(ldmerr.NotSupported, "unsupported disk VBLK revision %d", revision)
	}

	return disk, nil
}

func parseDiskGroupRecord(c *cursor, revision byte) (id uint32, name string, err error) {
	if revision != 3 && revision != 4 {
		return 0, "", ldmerr.New(ldmerr.NotSupported, "unsupported disk-group VBLK revision %d", revision)
	}
	id, err = c.varInt32()
	if err != nil {
		return 0, "", err
	}
	name, err = c.varStr()
	if err != nil {
		return 0, "", err
	}
	return id, name, nil
}

// formatGUIDBytes renders 16 raw GUID bytes in the canonical dashed
// hex form, without the GPT on-disk mixed-endian field reversal —
// these bytes come from an LDM VBLK field (ldm.c's disk->guid / the
// volume GUID), already in the same byte order libuuid's
// uuid_unparse_lower would print them. google/uuid replaces that
// libuuid call (SPEC_FULL.md §9).
func formatGUIDBytes(b []byte) string {
	id, err := uuid.FromBytes(b)
	if err != nil {
		// Only possible if b is not exactly 16 bytes, which every
		// caller here guarantees by construction.
		panic(err)
	}
	return id.String()
}
