package ldm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The helpers below hand-assemble raw VBLK bytes the way ldm.c's
// writer side would, so parseVBLKs/parseVBLKRecord can be exercised
// without a real device image.

func vStr(s string) []byte {
	return append([]byte{byte(len(s))}, []byte(s)...)
}

func recHead(kind, revision, flags byte) []byte {
	b := make([]byte, vblkRecHeadSize)
	b[2] = flags
	b[3] = (revision << 4) | kind
	return b
}

func entryHead(recordID uint32, entry, entriesTotal uint16) []byte {
	b := make([]byte, vblkEntryHeadSize)
	copy(b[0:4], "VBLK")
	binary.BigEndian.PutUint32(b[4:8], 1)
	binary.BigEndian.PutUint32(b[8:12], recordID)
	binary.BigEndian.PutUint16(b[12:14], entry)
	binary.BigEndian.PutUint16(b[14:16], entriesTotal)
	return b
}

func diskGroupPayload(id uint32, name string) []byte {
	b := recHead(0x05, 3, 0)
	b = append(b, putVarInt(uint64(id), 4)...)
	b = append(b, vStr(name)...)
	return b
}

func diskPayloadV4(id uint32, name string, guid [16]byte) []byte {
	b := recHead(0x04, 4, 0)
	b = append(b, putVarInt(uint64(id), 4)...)
	b = append(b, vStr(name)...)
	b = append(b, guid[:]...)
	return b
}

func partitionPayload(id uint32, name string, start, volOffset, size uint64, parentID, diskID uint32, index *uint32) []byte {
	flags := byte(0)
	if index != nil {
		flags = 0x08
	}
	b := recHead(0x03, 3, flags)
	b = append(b, putVarInt(uint64(id), 4)...)
	b = append(b, vStr(name)...)
	b = append(b, make([]byte, 4)...) // zeroes
	b = append(b, make([]byte, 8)...) // log commit id
	startBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(startBuf, start)
	b = append(b, startBuf...)
	volOffBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(volOffBuf, volOffset)
	b = append(b, volOffBuf...)
	b = append(b, putVarInt(size, 8)...)
	b = append(b, putVarInt(uint64(parentID), 4)...)
	b = append(b, putVarInt(uint64(diskID), 4)...)
	if index != nil {
		b = append(b, putVarInt(uint64(*index), 4)...)
	}
	return b
}

func componentPayload(id uint32, kind ComponentKind, nParts uint32, parentID uint32, chunkSize uint64, nColumns uint32, withStripeInfo bool) []byte {
	flags := byte(0)
	if withStripeInfo {
		flags = 0x10
	}
	b := recHead(0x02, 3, flags)
	b = append(b, putVarInt(uint64(id), 4)...)
	b = append(b, vStr("comp")...) // name
	b = append(b, vStr("")...)    // state
	b = append(b, byte(kind))
	b = append(b, make([]byte, 4)...) // zeroes
	b = append(b, putVarInt(uint64(nParts), 4)...)
	b = append(b, make([]byte, 8)...) // log commit id
	b = append(b, make([]byte, 8)...) // zeroes
	b = append(b, putVarInt(uint64(parentID), 4)...)
	b = append(b, make([]byte, 1)...) // zeroes
	if withStripeInfo {
		b = append(b, putVarInt(chunkSize, 8)...)
		b = append(b, putVarInt(uint64(nColumns), 4)...)
	}
	return b
}

func volumePayload(id uint32, name string, intKind internalVolumeKind, nComps uint32, size uint64, partType byte, guid [16]byte) []byte {
	b := recHead(0x01, 5, 0)
	b = append(b, putVarInt(uint64(id), 4)...)
	b = append(b, vStr(name)...)
	b = append(b, vStr("")...) // type string
	b = append(b, vStr("")...) // unknown
	b = append(b, make([]byte, 14)...) // volume state
	b = append(b, byte(intKind))
	b = append(b, make([]byte, 1)...) // unknown
	b = append(b, make([]byte, 1)...) // volume number
	b = append(b, make([]byte, 3)...) // zeroes
	b = append(b, 0)                  // recFlags
	b = append(b, putVarInt(uint64(nComps), 4)...)
	b = append(b, make([]byte, 8)...) // commit id
	b = append(b, make([]byte, 8)...) // id?
	b = append(b, putVarInt(size, 8)...)
	b = append(b, make([]byte, 4)...) // zeroes
	b = append(b, partType)
	b = append(b, guid[:]...)
	return b
}

// buildVMDB packs a sequence of single-entry VBLK records into a
// vmdbHeader ready for parseVBLKs, using a generous vblkDataSize so
// every record fits in one entry.
func buildVMDB(payloads [][]byte, counts vmdbCounts) *vmdbHeader {
	const vblkDataSize = 256
	const vblkSize = vblkDataSize + vblkEntryHeadSize

	var data []byte
	for i, p := range payloads {
		if len(p) > vblkDataSize {
			panic("test payload too large for fixture vblkDataSize")
		}
		padded := make([]byte, vblkDataSize)
		copy(padded, p)
		data = append(data, entryHead(uint32(1000+i), 0, 1)...)
		data = append(data, padded...)
	}

	return &vmdbHeader{
		data:            data,
		vblkSize:        vblkSize,
		vblkFirstOffset: 0,
		committedSeq:    42,
		counts:          counts,
		offsetInConfig:  0,
	}
}

func TestParseVBLKsFullDiskGroup(t *testing.T) {
	var guid1, guid2 [16]byte
	guid1[0] = 0x11
	guid2[0] = 0x22

	idx0 := uint32(0)
	payloads := [][]byte{
		diskGroupPayload(1, "DG1"),
		diskPayloadV4(2, "D1", guid1),
		componentPayload(3, ComponentSpanned, 1, 5, 0, 0, false),
		partitionPayload(4, "P1", 0, 0, 10000, 3, 2, &idx0),
		volumePayload(5, "Volume1", volumeKindGen, 1, 10000, 0x07, guid2),
	}

	vmdb := buildVMDB(payloads, vmdbCounts{disks: 1, partitions: 1, components: 1, volumes: 1})

	dg, err := parseVBLKs(vmdb)
	require.NoError(t, err)

	assert.Equal(t, "DG1", dg.Name)
	assert.EqualValues(t, 42, dg.Sequence)
	require.Len(t, dg.Disks, 1)
	assert.Equal(t, "D1", dg.Disks[0].Name)
	require.Len(t, dg.Partitions, 1)
	assert.Equal(t, "P1", dg.Partitions[0].Name)
	require.Len(t, dg.components, 1)
	assert.Equal(t, ComponentSpanned, dg.components[0].kind)
	require.Len(t, dg.Volumes, 1)
	assert.Equal(t, "Volume1", dg.Volumes[0].Name)
	assert.Equal(t, volumeKindGen, dg.Volumes[0].internalKind)

	require.NoError(t, link(dg))
	require.Len(t, dg.Volumes[0].Parts, 1)
	assert.Equal(t, VolumeSimple, dg.Volumes[0].Type)
}

func TestParseVBLKsCountMismatchFails(t *testing.T) {
	var guid1 [16]byte
	payloads := [][]byte{
		diskPayloadV4(2, "D1", guid1),
	}
	vmdb := buildVMDB(payloads, vmdbCounts{disks: 2})

	_, err := parseVBLKs(vmdb)
	require.Error(t, err)
}

func TestParseVBLKsEntryPastEntriesTotalFails(t *testing.T) {
	const vblkDataSize = 64
	const vblkSize = vblkDataSize + vblkEntryHeadSize

	payload := make([]byte, vblkDataSize)
	copy(payload, recHead(0x00, 0, 0))

	var data []byte
	data = append(data, entryHead(1, 5, 3)...) // entry 5 >= entries_total 3
	data = append(data, payload...)

	vmdb := &vmdbHeader{data: data, vblkSize: vblkSize, vblkFirstOffset: 0}

	_, err := parseVBLKs(vmdb)
	require.Error(t, err)
}

func TestParseVBLKsSpannedReassembly(t *testing.T) {
	// Use a small vblkDataSize to force the disk-group record's name
	// across two entries.
	const vblkDataSize = 24
	const vblkSize = vblkDataSize + vblkEntryHeadSize

	full := diskGroupPayload(7, "a-long-disk-group-name")
	require.True(t, len(full) > vblkDataSize, "fixture must actually span two entries")

	entry0 := make([]byte, vblkDataSize)
	copy(entry0, full[:vblkDataSize])
	entry1 := make([]byte, vblkDataSize)
	copy(entry1, full[vblkDataSize:])

	var data []byte
	data = append(data, entryHead(99, 0, 2)...)
	data = append(data, entry0...)
	data = append(data, entryHead(99, 1, 2)...)
	data = append(data, entry1...)

	vmdb := &vmdbHeader{data: data, vblkSize: vblkSize, vblkFirstOffset: 0}

	dg, err := parseVBLKs(vmdb)
	require.NoError(t, err)
	assert.Equal(t, "a-long-disk-group-name", dg.Name)
}

func TestParseVBLKsSpannedShortFails(t *testing.T) {
	const vblkDataSize = 16
	const vblkSize = vblkDataSize + vblkEntryHeadSize

	entry0 := make([]byte, vblkDataSize)
	copy(entry0, diskGroupPayload(7, "x")[:min(vblkDataSize, len(diskGroupPayload(7, "x")))])

	var data []byte
	// Claims 2 entries but the stream ends after 1.
	data = append(data, entryHead(99, 0, 2)...)
	data = append(data, entry0...)

	vmdb := &vmdbHeader{data: data, vblkSize: vblkSize, vblkFirstOffset: 0}

	_, err := parseVBLKs(vmdb)
	require.Error(t, err)
}

func TestParseDiskRevision3TextualGUID(t *testing.T) {
	b := recHead(0x04, 3, 0)
	b = append(b, putVarInt(1, 4)...)
	b = append(b, vStr("D1")...)
	b = append(b, vStr("11111111-2222-3333-4444-555555555555")...)

	c := newCursor(b[vblkRecHeadSize:])
	disk, err := parseDisk(c, 3)
	require.NoError(t, err)
	assert.Equal(t, "D1", disk.Name)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", disk.GUID)
}

func TestParseComponentRejectsUnknownKind(t *testing.T) {
	b := componentPayload(1, ComponentKind(0x09), 1, 2, 0, 0, false)
	c := newCursor(b[vblkRecHeadSize:])
	_, err := parseComponent(c, 3, 0)
	require.Error(t, err)
}

func TestParseComponentStripeInfo(t *testing.T) {
	b := componentPayload(1, ComponentStriped, 2, 5, 64, 2, true)
	c := newCursor(b[vblkRecHeadSize:])
	comp, err := parseComponent(c, 3, 0x10)
	require.NoError(t, err)
	assert.EqualValues(t, 64, comp.chunkSize)
	assert.EqualValues(t, 2, comp.nColumns)
}

func TestParseVolumeRejectsUnsupportedRevision(t *testing.T) {
	var guid [16]byte
	b := volumePayload(1, "V", volumeKindGen, 1, 100, 0, guid)
	c := newCursor(b[vblkRecHeadSize:])
	_, err := parseVolume(c, 4, 0)
	require.Error(t, err)
}
