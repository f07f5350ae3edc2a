// Package dmexec executes a dmplan.Plan against the host's
// device-mapper driver: creating the named devices a plan describes,
// removing a volume's devices, and looking up devices already
// materialized by a previous run.
//
// Grounded on two sources: ldm.c's _dm_create/_dm_remove/udev-cookie
// sequence, and microsoft-hcsshim's
// internal/guest/storage/devicemapper/devicemapper.go, which shows the
// idiomatic Go shape of the same DM_DEV_CREATE/DM_TABLE_LOAD/
// DM_DEV_SUSPEND ioctl sequence without cgo-binding libdevmapper. This
// package follows hcsshim's ioctl-struct approach (dmIoctl, targetSpec)
// generalized from hcsshim's single-linear-target guest-mount helper
// into dmplan's multi-target, name+UUID-addressed create/remove pair.
package dmexec

import (
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mdbooth/libldm/ldm/dmplan"
	"github.com/mdbooth/libldm/ldmerr"
)

// Linux's _IOC encoding (include/uapi/asm-generic/ioctl.h), needed
// because golang.org/x/sys/unix does not export device-mapper's own
// opcode numbers.
const (
	iocWrite    = 1
	iocRead     = 2
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocTypeShift = iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
	iocWRBase    = (iocRead | iocWrite) << iocDirShift
)

const (
	dmIoctlType = 0xfd
	dmIoctlSize = 312 // sizeof(struct dm_ioctl) on every supported arch
	dmIoctlBase = iocWRBase | dmIoctlType<<iocTypeShift | dmIoctlSize<<iocSizeShift
)

// Device-mapper ioctl command numbers (linux/dm-ioctl.h command enum).
const (
	cmdVersion = iota
	cmdRemoveAll
	cmdListDevices
	cmdDevCreate
	cmdDevRemove
	cmdDevRename
	cmdDevSuspend
	cmdDevStatus
	cmdDevWait
	cmdTableLoad
	cmdTableClear
	cmdTableDeps
	cmdTableStatus
)

const dmDir = "/dev/mapper"

// dmIoctl mirrors struct dm_ioctl from linux/dm-ioctl.h.
type dmIoctl struct {
	Version     [3]uint32
	DataSize    uint32
	DataStart   uint32
	TargetCount uint32
	OpenCount   int32
	Flags       uint32
	EventNumber uint32
	_           uint32
	Dev         uint64
	Name        [128]byte
	UUID        [129]byte
	_           [7]byte
}

// targetSpec mirrors struct dm_target_spec from linux/dm-ioctl.h.
type targetSpec struct {
	SectorStart    int64
	LengthInBlocks int64
	Status         int32
	Next           uint32
	Type           [16]byte
}

// dmTargetDeps mirrors struct dm_target_deps from linux/dm-ioctl.h: a
// DM_TABLE_DEPS response is this header followed by Count uint64
// dev_t values, one per block device the named table's targets
// reference.
type dmTargetDeps struct {
	Count   uint32
	Padding uint32
}

// dmNameList mirrors struct dm_name_list from linux/dm-ioctl.h: a
// DM_LIST_DEVICES response is a chain of these, each followed
// immediately by a NUL-terminated name; Next is the byte offset from
// this entry's own start to the next one, or 0 on the last entry.
type dmNameList struct {
	Dev  uint64
	Next uint32
}

func initIoctl(d *dmIoctl, size int, name, uuid string) {
	*d = dmIoctl{
		Version:  [3]uint32{4, 0, 0},
		DataSize: uint32(size),
	}
	copy(d.Name[:], name)
	copy(d.UUID[:], uuid)
}

// dmError wraps a failed device-mapper ioctl with the opcode that
// failed, so callers (notably Remove's busy-device retry) can inspect
// the underlying errno.
type dmError struct {
	cmd int
	err error
}

func (e *dmError) Error() string { return e.err.Error() }
func (e *dmError) Unwrap() error { return e.err }

func devMapperIoctl(f *os.File, cmd int, data *dmIoctl) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(cmd|dmIoctlBase), uintptr(unsafe.Pointer(data)))
	if errno != 0 {
		return &dmError{cmd: cmd, err: errno}
	}
	return nil
}

// dmQueryBufSize is the output buffer queryIoctl gives the kernel for
// a variable-length response (DM_TABLE_DEPS, DM_LIST_DEVICES). Large
// enough for the handful of devices a single LDM volume's plan ever
// creates; device-mapper would report DM_BUFFER_FULL_FLAG if it
// weren't, which this module does not need to handle given that bound.
const dmQueryBufSize = 16 * 1024

// queryIoctl issues cmd against name (or every device, for
// DM_LIST_DEVICES, where name is empty) with a generously sized output
// buffer and returns the raw response for the caller to parse.
func queryIoctl(f *os.File, cmd int, name, uuid string) ([]byte, error) {
	buf := make([]byte, dmQueryBufSize)
	d := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	initIoctl(d, len(buf), name, uuid)
	if err := devMapperIoctl(f, cmd, d); err != nil {
		return nil, err
	}
	return buf, nil
}

// parseTargetDeps extracts the kernel dev_t values a DM_TABLE_DEPS
// response lists for one device's table.
func parseTargetDeps(buf []byte) []uint64 {
	off := int(unsafe.Sizeof(dmIoctl{}))
	deps := (*dmTargetDeps)(unsafe.Pointer(&buf[off]))
	off += int(unsafe.Sizeof(dmTargetDeps{}))

	out := make([]uint64, deps.Count)
	for i := range out {
		out[i] = *(*uint64)(unsafe.Pointer(&buf[off]))
		off += 8
	}
	return out
}

// parseNameList maps every device-mapper device's kernel dev_t to its
// name from a DM_LIST_DEVICES response.
func parseNameList(buf []byte) map[uint64]string {
	out := make(map[uint64]string)

	hdr := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	off := int(unsafe.Sizeof(dmIoctl{}))
	if int(hdr.DataSize) <= off {
		return out
	}

	for {
		e := (*dmNameList)(unsafe.Pointer(&buf[off]))
		// The name starts right after Next, not after the padded Go
		// struct size.
		nameOff := off + int(unsafe.Offsetof(e.Next)+unsafe.Sizeof(e.Next))
		out[e.Dev] = cstring(buf[nameOff:])
		if e.Next == 0 {
			return out
		}
		off += int(e.Next)
	}
}

func openMapper() (*os.File, error) {
	f, err := os.OpenFile("/dev/mapper/control", os.O_RDWR, 0)
	if err != nil {
		return nil, ldmerr.Wrap(ldmerr.Io, err, "opening /dev/mapper/control")
	}
	return f, nil
}

// sizeofTarget rounds a target's encoded size up to 8-byte alignment,
// same as hcsshim's Target.sizeof.
func sizeofTarget(t dmplan.Target) int {
	return (int(unsafe.Sizeof(targetSpec{})) + len(t.Params) + 1 + 7) &^ 7
}

// makeTableIoctl builds the DM_TABLE_LOAD ioctl payload for one
// device's ordered target list.
func makeTableIoctl(name, uuid string, targets []dmplan.Target) *dmIoctl {
	off := int(unsafe.Sizeof(dmIoctl{}))
	size := off
	for _, t := range targets {
		size += sizeofTarget(t)
	}

	buf := make([]byte, size)
	d := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	initIoctl(d, size, name, uuid)
	d.DataStart = uint32(off)
	d.TargetCount = uint32(len(targets))

	for _, t := range targets {
		spec := (*targetSpec)(unsafe.Pointer(&buf[off]))
		n := sizeofTarget(t)
		spec.SectorStart = int64(t.Start)
		spec.LengthInBlocks = int64(t.Size)
		spec.Next = uint32(n)
		copy(spec.Type[:], string(t.Type))
		copy(buf[off+int(unsafe.Sizeof(*spec)):], t.Params)
		off += n
	}

	return d
}

// mknodDevice creates (or replaces) the /dev/mapper device node for a
// newly created device-mapper device, grounded on CreateDevice's
// unix.Mknod call in hcsshim's devicemapper.go.
func mknodDevice(name string, dev uint64) (string, error) {
	p := filepath.Join(dmDir, name)
	_ = os.Remove(p)
	if err := unix.Mknod(p, unix.S_IFBLK|0600, int(dev)); err != nil {
		return "", ldmerr.Wrap(ldmerr.External, err, "creating device node %s", p)
	}
	return p, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
