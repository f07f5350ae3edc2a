package dmexec

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mdbooth/libldm/ldm/dmplan"
)

// driver is the seam between Create/Remove's orchestration logic and
// the host's device-mapper control device. Production code always
// uses realDriver; tests substitute a fake so Create/Remove's retry,
// idempotence and rollback logic can run without root or a real DM
// driver underneath (unlike ldm.c, which links libdevmapper directly
// and so has no equivalent seam).
type driver interface {
	// exists reports whether a device carrying uuid is already
	// registered with device-mapper, grounded on
	// ldm_volume_dm_create/ldm_volume_dm_remove's shared upfront
	// _dm_find_tree_node_by_uuid check.
	exists(uuid string) (bool, error)
	// resolveName is exists plus the device's own name, for
	// DevicePath's /dev/mapper path lookups.
	resolveName(uuid string) (name string, ok bool, err error)
	// create runs the create+load-table+suspend+mknod sequence for
	// one planned device, returning its /dev/mapper node path.
	create(dev dmplan.Device) (string, error)
	// children returns the names of the other device-mapper devices
	// name's table directly references, discovered from live
	// device-mapper state (DM_TABLE_DEPS + DM_LIST_DEVICES) rather
	// than from any previously computed plan, grounded on
	// dm_tree_deactivate_children's dependency-tree walk in ldm.c.
	children(name string) ([]string, error)
	// remove tears down one named device-mapper device.
	remove(name string) error
	// close releases any resource the driver holds open.
	close() error
}

// realDriver backs driver with the actual /dev/mapper/control ioctl
// sequence from ioctl.go.
type realDriver struct {
	f *os.File
}

func openRealDriver() (*realDriver, error) {
	f, err := openMapper()
	if err != nil {
		return nil, err
	}
	return &realDriver{f: f}, nil
}

func (d *realDriver) close() error {
	return d.f.Close()
}

func (d *realDriver) exists(uuid string) (bool, error) {
	_, ok, err := d.resolveName(uuid)
	return ok, err
}

func (d *realDriver) resolveName(uuid string) (string, bool, error) {
	var di dmIoctl
	initIoctl(&di, int(unsafe.Sizeof(di)), "", uuid)
	err := devMapperIoctl(d.f, cmdDevStatus, &di)
	if err == nil {
		return cstring(di.Name[:]), true, nil
	}
	var dmErr *dmError
	if errors.As(err, &dmErr) && errors.Is(dmErr.err, unix.ENXIO) {
		return "", false, nil
	}
	return "", false, err
}

func (d *realDriver) create(dev dmplan.Device) (string, error) {
	var di dmIoctl
	size := int(unsafe.Sizeof(di))
	initIoctl(&di, size, dev.Name, dev.UUID)
	if err := devMapperIoctl(d.f, cmdDevCreate, &di); err != nil {
		return "", err
	}
	devNum := di.Dev

	table := makeTableIoctl(dev.Name, dev.UUID, dev.Targets)
	if err := devMapperIoctl(d.f, cmdTableLoad, table); err != nil {
		_ = d.remove(dev.Name)
		return "", err
	}

	initIoctl(&di, size, dev.Name, dev.UUID)
	if err := devMapperIoctl(d.f, cmdDevSuspend, &di); err != nil {
		_ = d.remove(dev.Name)
		return "", err
	}

	return mknodDevice(dev.Name, devNum)
}

func (d *realDriver) children(name string) ([]string, error) {
	depsBuf, err := queryIoctl(d.f, cmdTableDeps, name, "")
	if err != nil {
		return nil, err
	}
	devs := parseTargetDeps(depsBuf)
	if len(devs) == 0 {
		return nil, nil
	}

	listBuf, err := queryIoctl(d.f, cmdListDevices, "", "")
	if err != nil {
		return nil, err
	}
	names := parseNameList(listBuf)

	var children []string
	for _, dev := range devs {
		// Not every dependency is itself a device-mapper device — a
		// spanned/striped volume's targets reference raw partitions,
		// which DM_LIST_DEVICES never lists. Those aren't ours to
		// remove.
		if n, ok := names[dev]; ok {
			children = append(children, n)
		}
	}
	return children, nil
}

func (d *realDriver) remove(name string) error {
	var di dmIoctl
	initIoctl(&di, int(unsafe.Sizeof(di)), name, "")
	return devMapperIoctl(d.f, cmdDevRemove, &di)
}
