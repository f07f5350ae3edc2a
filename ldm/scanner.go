package ldm

import (
	"context"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mdbooth/libldm/ldm/ldmlog"
	"github.com/mdbooth/libldm/ldmerr"
)

const defaultSectorSize = 512

var scanLog = ldmlog.Entry("ldm.scanner")

// Scanner is a collection of disk groups, keyed by GUID, populated
// incrementally as devices are added (spec.md §3 "Scanner state").
// It is not safe for concurrent use — spec.md §5 models one scanner
// session as single-threaded cooperative.
type Scanner struct {
	groups []*DiskGroup
	byGUID map[string]*DiskGroup
}

// NewScanner returns an empty Scanner.
func NewScanner() *Scanner {
	return &Scanner{byGUID: make(map[string]*DiskGroup)}
}

// AddDevice runs the C7 disk-group registry pipeline (spec.md §4.7) for
// one physical block device: open read-only, determine sector size,
// locate and decode its PRIVHEAD/config/VBLK stream, link the result
// into a DiskGroup, then register or cross-check it against any
// already-known group sharing the same disk-group GUID.
//
// ctx is threaded through per the teacher's context-carrying client
// convention (spec.md §5); AddDevice does not consult it. It opens and
// reads the device itself and never polls ctx.Done() mid-read, same
// as spec.md §5's "Cancellation and timeouts: None from within the core."
func (s *Scanner) AddDevice(ctx context.Context, path string) error {
	defer ldmlog.Enter(scanLog, "AddDevice")()
	log := scanLog.WithField("device", path)

	f, err := os.Open(path)
	if err != nil {
		return ldmerr.Wrap(ldmerr.Io, err, "opening %s", path)
	}
	defer f.Close()

	sectorSize := uint64(defaultSectorSize)
	if sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET); err == nil && sz > 0 {
		sectorSize = uint64(sz)
	}

	deviceSize, err := deviceByteSize(f)
	if err != nil {
		return ldmerr.Wrap(ldmerr.Io, err, "determining size of %s", path)
	}

	ph, err := locatePrivHead(f, sectorSize)
	if err != nil {
		return err
	}

	config, err := readConfig(f, deviceSize, ph, sectorSize)
	if err != nil {
		return err
	}

	vmdb, err := findVMDB(config, sectorSize)
	if err != nil {
		return err
	}

	dg, err := parseVBLKs(vmdb)
	if err != nil {
		return err
	}

	if err := link(dg); err != nil {
		return err
	}

	if ph.diskGroupGUID == "" {
		return ldmerr.New(ldmerr.Invalid, "PRIVHEAD contains an empty disk group GUID in %s", path)
	}
	dg.GUID = ph.diskGroupGUID

	existing := s.byGUID[strings.ToUpper(dg.GUID)]
	if existing == nil {
		s.byGUID[strings.ToUpper(dg.GUID)] = dg
		s.groups = append(s.groups, dg)
		existing = dg
		log.WithField("disk_group", dg.GUID).Debug("registered new disk group")
	} else if existing.Sequence != dg.Sequence {
		return ldmerr.New(ldmerr.Inconsistent, "disk group %s: device %s reports committed sequence %d, but group is already registered at sequence %d", dg.GUID, path, dg.Sequence, existing.Sequence)
	} else {
		log.WithField("disk_group", dg.GUID).Debug("disk group already registered, sequence matches")
	}

	disk, ok := existing.diskByGUID(ph.diskGUID)
	if !ok {
		return ldmerr.New(ldmerr.Invalid, "disk group %s has no disk matching PRIVHEAD disk GUID %s from %s", existing.GUID, ph.diskGUID, path)
	}
	disk.Device = path
	disk.DataStart = ph.logicalDiskStart
	disk.DataSize = ph.logicalDiskSize
	disk.MetadataStart = ph.configStart
	disk.MetadataSize = ph.configSize

	return nil
}

// DiskGroups returns an ordered snapshot of every disk group known to
// the scanner so far.
func (s *Scanner) DiskGroups() []*DiskGroup {
	out := make([]*DiskGroup, len(s.groups))
	copy(out, s.groups)
	return out
}

// FindVolume resolves a "<disk-group-name>/<volume-name>" pair to a
// volume, generalizing ldmtool.c's find_volume CLI helper
// (SPEC_FULL.md §10). Per spec.md's Non-goal, this does not
// disambiguate disk groups sharing a name but differing in GUID: if
// more than one registered group has this name, the first (by
// registration order) wins.
func (s *Scanner) FindVolume(dgName, volName string) (*Volume, error) {
	for _, dg := range s.groups {
		if dg.Name != dgName {
			continue
		}
		for _, v := range dg.Volumes {
			if v.Name == volName {
				return v, nil
			}
		}
		return nil, ldmerr.New(ldmerr.Invalid, "disk group %q has no volume named %q", dgName, volName)
	}
	return nil, ldmerr.New(ldmerr.Invalid, "no disk group named %q", dgName)
}

// deviceByteSize returns the full size in bytes of the underlying
// device, grounded on ldm.c's _read_config (fstat, then BLKGETSIZE64
// for block devices since st_size is not populated for them).
func deviceByteSize(f *os.File) (uint64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeDevice == 0 {
		return uint64(info.Size()), nil
	}

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}
