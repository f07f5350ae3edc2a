// Package ldm parses Microsoft LDM (Logical Disk Manager) on-disk
// metadata from raw block devices and reconstructs the logical
// objects it describes: disk groups, dynamic disks, partitions,
// internal components, and volumes.
//
// Ported from mdbooth/libldm's src/ldm.c, src/ldm.h, src/mbr.c and
// src/gpt.c. The C source models these objects as a GObject class
// hierarchy with reference-counted, possibly-cyclic back-references.
// This package instead follows spec.md's arena+index note: each
// DiskGroup owns flat slices of its disks, partitions, components, and
// volumes, and cross-references are resolved pointers filled in once
// during linking and never re-walked afterward.
package ldm

import (
	"fmt"
	"strings"
)

// ComponentKind identifies the internal assembly strategy of a
// Component: how its child partitions combine to form part of a
// volume's address space.
type ComponentKind byte

const (
	ComponentStriped ComponentKind = 1
	ComponentSpanned ComponentKind = 2
	ComponentRaid    ComponentKind = 3
)

func (k ComponentKind) String() string {
	switch k {
	case ComponentStriped:
		return "striped"
	case ComponentSpanned:
		return "spanned"
	case ComponentRaid:
		return "raid"
	default:
		return fmt.Sprintf("component-kind(%d)", byte(k))
	}
}

// internalVolumeKind is the raw kind byte decoded from a volume VBLK,
// before the graph linker combines it with child-component kind to
// derive the exposed VolumeType (spec.md §4.6).
type internalVolumeKind byte

const (
	volumeKindGen   internalVolumeKind = 0x3
	volumeKindRaid5 internalVolumeKind = 0x4
)

func (k internalVolumeKind) String() string {
	switch k {
	case volumeKindGen:
		return "gen"
	case volumeKindRaid5:
		return "raid5"
	default:
		return fmt.Sprintf("internal-volume-kind(0x%x)", byte(k))
	}
}

// VolumeType is the exposed logical topology of a volume, derived by
// the graph linker from the pairing of internal volume kind and child
// component kind (spec.md §4.6's decision table). It is what the DM
// target planner (package dmplan) dispatches on.
type VolumeType int

const (
	VolumeSimple VolumeType = iota
	VolumeSpanned
	VolumeStriped
	VolumeMirrored
	VolumeRaid5
)

func (t VolumeType) String() string {
	switch t {
	case VolumeSimple:
		return "simple"
	case VolumeSpanned:
		return "spanned"
	case VolumeStriped:
		return "striped"
	case VolumeMirrored:
		return "mirrored"
	case VolumeRaid5:
		return "raid5"
	default:
		return fmt.Sprintf("volume-type(%d)", int(t))
	}
}

// Disk is one dynamic disk within a disk group.
//
// Identity is its 128-bit GUID; id is the disk group-local 32-bit
// VBLK id used only while linking partitions to this disk (spec.md
// §4.6 step 1) — it is never exposed because it has no meaning outside
// the VBLK stream that produced it.
type Disk struct {
	id uint32

	GUID string
	Name string

	// DGName is the owning disk group's short name, propagated after
	// linking (spec.md §4.6 step 7); used when composing device-mapper
	// names in package dmplan.
	DGName string

	// Device is the host block-device path for this disk, or "" if
	// this disk is known only from a peer's metadata and has not yet
	// been scanned directly (spec.md §4.7). A Disk whose Device is ""
	// is a missing disk for device-mapper planning purposes.
	Device string

	// DataStart/DataSize/MetadataStart/MetadataSize are this disk's
	// extents, in sectors, taken from its own PRIVHEAD when Device was
	// set (spec.md §4.7 step 4). Zero until then.
	DataStart     uint64
	DataSize      uint64
	MetadataStart uint64
	MetadataSize  uint64
}

// Missing reports whether this disk's host device path is unknown.
func (d *Disk) Missing() bool {
	return d.Device == ""
}

// Partition is a contiguous range within a disk's data area that
// contributes to exactly one volume's address space.
type Partition struct {
	id uint32

	Name      string
	Start     uint64
	Size      uint64
	VolOffset uint64
	Index     uint32

	diskID      uint32
	componentID uint32

	// Disk is the resolved parent disk, filled in during linking.
	Disk *Disk
	// component is the resolved parent component. Unexported: spec.md
	// §3 treats Component as internal, not user-visible.
	component *component
}

// component is the internal (not user-visible) assembly of partitions
// beneath a volume: striped, spanned, or raid.
type component struct {
	id       uint32
	parentID uint32

	kind ComponentKind

	nParts    uint32
	chunkSize uint64
	nColumns  uint32

	// parts is the ordered (by Index) child partition list, populated
	// during linking (spec.md §4.6 steps 2-3).
	parts []*Partition
}

// Volume is the user-visible logical disk exposed to the host as one
// block device.
type Volume struct {
	id uint32

	Name      string
	GUID      string
	Size      uint64
	PartType  byte
	DriveHint string

	internalKind internalVolumeKind
	nComps       uint32 // declared _n_comps
	nCompsLinked uint32 // _n_comps_i, incremented once per linked component

	// Type is the derived exposed topology (spec.md §4.6).
	Type VolumeType
	// ChunkSize is inherited from the child component for striped/raid5
	// volumes, 0 otherwise.
	ChunkSize uint64

	// Parts is the flat union of all child components' partitions, in
	// component link order, with each component's partitions already
	// sorted by Index.
	Parts []*Partition

	// DGName is the owning disk group's short name, propagated during
	// linking (spec.md §4.6 step 7).
	DGName string

	components []*component
}

// DiskGroup is the unit of LDM consistency: a set of dynamic disks
// whose metadata is replicated across all members.
type DiskGroup struct {
	id   uint32
	GUID string
	Name string

	// Sequence is the VMDB committed sequence number agreed on by every
	// scanned member (spec.md §4.7 step 3).
	Sequence uint64

	Disks      []*Disk
	Partitions []*Partition
	Volumes    []*Volume

	components []*component

	// counts are the VMDB's declared committed object counts, checked
	// against the linked slice lengths (spec.md §8).
	counts vmdbCounts
}

// MissingDisks returns the disks in this group whose host device path
// is still unknown.
func (g *DiskGroup) MissingDisks() []*Disk {
	var out []*Disk
	for _, d := range g.Disks {
		if d.Missing() {
			out = append(out, d)
		}
	}
	return out
}

// Volume looks up a volume within this group by its VBLK-internal id.
// Exposed as a convenience per SPEC_FULL.md §10; ids are stable within
// one scanner session but not across independent parses of the same
// device.
func (g *DiskGroup) Volume(id uint32) (*Volume, bool) {
	for _, v := range g.Volumes {
		if v.id == id {
			return v, true
		}
	}
	return nil, false
}

func (g *DiskGroup) diskByID(id uint32) (*Disk, bool) {
	for _, d := range g.Disks {
		if d.id == id {
			return d, true
		}
	}
	return nil, false
}

func (g *DiskGroup) componentByID(id uint32) (*component, bool) {
	for _, c := range g.components {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// diskByGUID compares case-insensitively: revision-4 disk records go
// through formatGUIDBytes (always lowercase, via google/uuid's
// String), but revision-3 records and PRIVHEAD's diskGUID carry
// whatever case the on-disk text happened to use. The original avoids
// this entirely by comparing parsed binary UUIDs (uuid_compare in
// ldm.c); EqualFold gets the same case-blind result without a second
// parse step.
func (g *DiskGroup) diskByGUID(guid string) (*Disk, bool) {
	for _, d := range g.Disks {
		if strings.EqualFold(d.GUID, guid) {
			return d, true
		}
	}
	return nil, false
}

// vmdbCounts are the VMDB's declared committed object counts (spec.md
// §4.3, §8's final invariant).
type vmdbCounts struct {
	disks      uint32
	partitions uint32
	components uint32
	volumes    uint32
}
