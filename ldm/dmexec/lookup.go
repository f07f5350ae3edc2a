package dmexec

import (
	"context"

	"github.com/mdbooth/libldm/ldm"
	"github.com/mdbooth/libldm/ldm/dmplan"
)

// DevicePath reports the /dev/mapper path of the device-mapper device
// carrying uuid, without creating it — a SPEC_FULL.md §10 addition
// grounded on ldm_volume_dm_get_device, which looks up a dm_tree node
// by UUID and nothing else. ok is false if no such device exists.
func DevicePath(ctx context.Context, uuid string) (path string, ok bool, err error) {
	d, err := openRealDriver()
	if err != nil {
		return "", false, err
	}
	defer func() { _ = d.close() }()

	name, ok, err := d.resolveName(uuid)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return dmDir + "/" + name, true, nil
}

// VolumeDevicePath is DevicePath for a volume's own device, grounded
// on ldm_volume_dm_get_device.
func VolumeDevicePath(ctx context.Context, v *ldm.Volume) (string, bool, error) {
	return DevicePath(ctx, dmplan.VolUUID(v))
}

// PartitionDevicePath is DevicePath for a single partition's linear
// helper device, grounded on ldm_partition_dm_get_device — useful
// independent of whether the partition's parent volume has been
// created, e.g. to check a mirror leg's status directly.
func PartitionDevicePath(ctx context.Context, p *ldm.Partition) (string, bool, error) {
	return DevicePath(ctx, dmplan.PartUUID(p))
}
