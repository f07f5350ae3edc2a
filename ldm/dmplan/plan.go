// Package dmplan turns a linked *ldm.Volume into a device-mapper
// table: the set of named devices, their UUIDs, and the ordered
// target lines device-mapper needs to materialize it.
//
// Plan never touches a device node, an ioctl, or udev — it is pure
// data, grounded on the target-building halves of
// _dm_create_spanned/_dm_create_striped/_dm_create_mirrored/
// _dm_create_raid5 in ldm.c with the actual dm_task_* calls removed
// (package ldm/dmexec does those). Splitting the two lets a caller
// inspect a plan, including whether it is degraded, before committing
// to creating anything.
package dmplan

import (
	"fmt"

	"github.com/mdbooth/libldm/ldm"
	"github.com/mdbooth/libldm/ldmerr"
)

// TargetType is a device-mapper target type name, as it appears in
// dmsetup table output and the DM_TABLE_LOAD ioctl.
type TargetType string

const (
	TargetLinear  TargetType = "linear"
	TargetStriped TargetType = "striped"
	TargetRaid    TargetType = "raid"
)

// dmUUIDPrefix mirrors ldm.c's DM_UUID_PREFIX: every device this
// package plans carries a UUID under this namespace, so a later scan
// of existing DM devices can recognize ones this library created.
const dmUUIDPrefix = "LDM-"

// Target is one line of a device-mapper table: a range of the
// device's address space, in 512-byte sectors, mapped by one target type with its
// type-specific parameter string.
type Target struct {
	Start  uint64
	Size   uint64
	Type   TargetType
	Params string
}

// Device is one device-mapper device to create: a name, a UUID, and
// an ordered table of targets.
type Device struct {
	Name    string
	UUID    string
	Targets []Target
}

// Plan is the ordered sequence of devices needed to materialize one
// volume. For simple, spanned and striped volumes it holds exactly
// one device. For mirrored and raid5 volumes it holds one linear
// helper device per backing partition whose disk is present (grounded
// on _dm_create_part; a partition on a missing disk gets no helper),
// followed by the top-level raid device that assembles them — callers
// must create Devices in order, since the raid device's table
// references the helpers by name.
type Plan struct {
	// Devices is in creation order; the volume's own user-visible
	// device (see VolumeDevice) is always the last element.
	Devices []Device

	missingDisks []string
}

// VolumeDevice returns the final, user-visible device of the plan.
func (p *Plan) VolumeDevice() Device {
	return p.Devices[len(p.Devices)-1]
}

// Degraded reports whether this plan was built with one or more
// backing disks missing (spec.md §4.8, SPEC_FULL.md §10).
func (p *Plan) Degraded() bool {
	return len(p.missingDisks) > 0
}

// MissingDisks returns the logical names of disks absent from this
// plan's volume, in partition order. Empty if the plan is not
// degraded.
func (p *Plan) MissingDisks() []string {
	out := make([]string, len(p.missingDisks))
	copy(out, p.missingDisks)
	return out
}

// PartName returns the device-mapper device name for a partition
// helper device, grounded on ldm.c's _dm_part_name.
func PartName(p *ldm.Partition) string {
	return fmt.Sprintf("ldm_part_%s_%s", p.Disk.DGName, p.Name)
}

// PartUUID returns the device-mapper UUID for a partition helper
// device, grounded on ldm.c's _dm_part_uuid.
func PartUUID(p *ldm.Partition) string {
	return fmt.Sprintf("%s%s-%s", dmUUIDPrefix, p.Name, p.Disk.GUID)
}

// VolName returns the device-mapper device name for a volume's
// top-level device, grounded on ldm.c's _dm_vol_name.
func VolName(v *ldm.Volume) string {
	return fmt.Sprintf("ldm_vol_%s_%s", v.DGName, v.Name)
}

// VolUUID returns the device-mapper UUID for a volume's top-level
// device, grounded on ldm.c's _dm_vol_uuid.
func VolUUID(v *ldm.Volume) string {
	return fmt.Sprintf("%s%s-%s", dmUUIDPrefix, v.Name, v.GUID)
}

// Plan builds the device-mapper table for v, dispatching on its
// derived VolumeType (spec.md §4.6, §4.8).
func Plan(v *ldm.Volume) (*Plan, error) {
	if len(v.Parts) == 0 {
		return nil, ldmerr.New(ldmerr.Invalid, "volume %q has no partitions to plan", v.Name)
	}

	switch v.Type {
	case ldm.VolumeSimple, ldm.VolumeSpanned:
		return planSpanned(v)
	case ldm.VolumeStriped:
		return planStriped(v)
	case ldm.VolumeMirrored:
		return planMirrored(v)
	case ldm.VolumeRaid5:
		return planRaid5(v)
	default:
		return nil, ldmerr.New(ldmerr.NotSupported, "volume %q: no DM plan for volume type %s", v.Name, v.Type)
	}
}

// planSpanned handles both VolumeSimple (one partition) and
// VolumeSpanned (several, concatenated): one linear target per
// partition, addressed directly at the volume device, grounded on
// _dm_create_spanned. Unlike mirrored/raid5, a missing disk here is
// fatal — there is no redundancy to fall back on.
func planSpanned(v *ldm.Volume) (*Plan, error) {
	targets := make([]Target, len(v.Parts))

	var pos uint64
	for i, part := range v.Parts {
		if part.Disk.Missing() {
			return nil, ldmerr.New(ldmerr.MissingDisk, "disk %s required by volume %q is missing", part.Disk.Name, v.Name)
		}
		if pos != part.VolOffset {
			return nil, ldmerr.New(ldmerr.Invalid, "volume %q: partition %q's volume offset %d does not match the sum of preceding partition sizes %d", v.Name, part.Name, part.VolOffset, pos)
		}

		targets[i] = Target{
			Start:  pos,
			Size:   part.Size,
			Type:   TargetLinear,
			Params: fmt.Sprintf("%s %d", part.Disk.Device, part.Disk.DataStart+part.Start),
		}
		pos += part.Size
	}

	return &Plan{
		Devices: []Device{{
			Name:    VolName(v),
			UUID:    VolUUID(v),
			Targets: targets,
		}},
	}, nil
}

// planStriped handles VolumeStriped: a single "striped" target whose
// parameters list every backing partition's disk/offset pair,
// grounded on _dm_create_striped. As with spanned, any missing disk
// is fatal.
func planStriped(v *ldm.Volume) (*Plan, error) {
	params := fmt.Sprintf("%d %d", len(v.Parts), v.ChunkSize)
	for _, part := range v.Parts {
		if part.Disk.Missing() {
			return nil, ldmerr.New(ldmerr.MissingDisk, "disk %s required by volume %q is missing", part.Disk.Name, v.Name)
		}
		params += fmt.Sprintf(" %s %d", part.Disk.Device, part.Disk.DataStart+part.Start)
	}

	return &Plan{
		Devices: []Device{{
			Name: VolName(v),
			UUID: VolUUID(v),
			Targets: []Target{{
				Start:  0,
				Size:   v.Size,
				Type:   TargetStriped,
				Params: params,
			}},
		}},
	}, nil
}

// partHelperDevice builds the one-target linear helper device for a
// single backing partition, grounded on _dm_create_part.
func partHelperDevice(part *ldm.Partition) Device {
	return Device{
		Name: PartName(part),
		UUID: PartUUID(part),
		Targets: []Target{{
			Start:  0,
			Size:   part.Size,
			Type:   TargetLinear,
			Params: fmt.Sprintf("%s %d", part.Disk.Device, part.Disk.DataStart+part.Start),
		}},
	}
}

// planMirrored handles VolumeMirrored: one linear helper device per
// mirror leg plus a top-level "raid1" device over them, grounded on
// _dm_create_mirrored. A leg whose disk is missing is encoded as the
// literal placeholder "- -" in the raid target's parameter string,
// matching dm-raid's own degraded-member syntax; at least one leg
// must be present.
func planMirrored(v *ldm.Volume) (*Plan, error) {
	devices, params, missing, found := buildRaidLegs(v)
	if found == 0 {
		return nil, ldmerr.New(ldmerr.MissingDisk, "mirrored volume %q is missing all of its legs", v.Name)
	}

	raidParams := fmt.Sprintf("raid1 1 128 %d%s", len(v.Parts), params)
	devices = append(devices, Device{
		Name:    VolName(v),
		UUID:    VolUUID(v),
		Targets: []Target{{Start: 0, Size: v.Size, Type: TargetRaid, Params: raidParams}},
	})

	return &Plan{Devices: devices, missingDisks: missing}, nil
}

// planRaid5 handles VolumeRaid5: the same helper-device-plus-raid-
// target shape as mirrored, but with a "raid5_ls" target and a
// one-missing-leg tolerance (RAID5 survives exactly one absent
// member), grounded on _dm_create_raid5.
func planRaid5(v *ldm.Volume) (*Plan, error) {
	devices, params, missing, found := buildRaidLegs(v)
	if found < len(v.Parts)-1 {
		return nil, ldmerr.New(ldmerr.MissingDisk, "raid5 volume %q is missing more than one of its %d members", v.Name, len(v.Parts))
	}

	raidParams := fmt.Sprintf("raid5_ls 1 %d %d%s", v.ChunkSize, len(v.Parts), params)
	devices = append(devices, Device{
		Name:    VolName(v),
		UUID:    VolUUID(v),
		Targets: []Target{{Start: 0, Size: v.Size, Type: TargetRaid, Params: raidParams}},
	})

	return &Plan{Devices: devices, missingDisks: missing}, nil
}

// buildRaidLegs builds the partition helper devices for every backing
// partition of a raid1/raid5 volume, and the shared
// "- <helper-device> | - -" parameter tail both planMirrored and
// planRaid5 append to their raid target. It never returns an error:
// a missing disk contributes a placeholder leg, not a failure — the
// caller decides how many missing legs its redundancy level tolerates.
func buildRaidLegs(v *ldm.Volume) (devices []Device, params string, missing []string, found int) {
	devices = make([]Device, 0, len(v.Parts))

	for _, part := range v.Parts {
		if part.Disk.Missing() {
			missing = append(missing, part.Disk.Name)
			params += " - -"
			continue
		}

		helper := partHelperDevice(part)
		devices = append(devices, helper)
		found++
		params += fmt.Sprintf(" - /dev/mapper/%s", helper.Name)
	}

	return devices, params, missing, found
}
