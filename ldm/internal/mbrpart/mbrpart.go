// Package mbrpart is the minimal MBR boundary reader spec.md treats as
// an external black-box collaborator: input a file descriptor, output
// the first partition entry's 1-byte type code. It exists only to
// answer "is this an MBR-LDM disk, a protective MBR (GPT), or
// neither", so it deliberately does not decode all four partition
// entries, CHS fields, or extended partitions the way a general MBR
// reader (e.g. go-diskfs's partition/mbr) would.
//
// Grounded on mdbooth/libldm's src/mbr.c (mbr_read, mbr_get_partition).
package mbrpart

import (
	"io"

	"github.com/mdbooth/libldm/ldmerr"
)

const (
	sectorSize      = 512
	signatureOffset = 510
	partTableOffset = 0x1BE // 446: start of the 4 16-byte MBR partition entries
	partEntrySize   = 16
	typeByteOffset  = 4 // offset of the type byte within one partition entry
)

// FirstPartitionType reads sector 0 of r, verifies the 0x55 0xAA MBR
// signature, and returns the type byte of the first partition table
// entry (e.g. 0x42 for Windows LDM, 0xEE for a protective MBR).
func FirstPartitionType(r io.ReaderAt) (byte, error) {
	sector := make([]byte, sectorSize)
	if _, err := r.ReadAt(sector, 0); err != nil {
		return 0, ldmerr.Wrap(ldmerr.Io, err, "reading MBR sector 0")
	}

	if sector[signatureOffset] != 0x55 || sector[signatureOffset+1] != 0xAA {
		return 0, ldmerr.New(ldmerr.NotLdm, "no MBR signature (0x55 0xAA) at bytes 510..512")
	}

	return sector[partTableOffset+typeByteOffset], nil
}
