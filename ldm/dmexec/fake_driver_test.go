package dmexec

import (
	"fmt"
	"strings"

	"github.com/mdbooth/libldm/ldm/dmplan"
	"github.com/mdbooth/libldm/ldmerr"
)

// fakeDriver is an in-memory stand-in for realDriver: no ioctl, no
// /dev/mapper/control, no root. It tracks created devices by name and
// UUID so Create/Remove's orchestration (idempotence check, ordering,
// rollback) can be exercised directly.
type fakeDriver struct {
	byName map[string]dmplan.Device
	byUUID map[string]string // uuid -> name

	failCreate     map[string]error // device name -> error to return from create
	failRemove     map[string]error // device name -> error to return from remove
	failRemoveOnce map[string]error // device name -> error returned exactly once, then cleared

	createCalls []string
	removeCalls []string
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		byName:         make(map[string]dmplan.Device),
		byUUID:         make(map[string]string),
		failCreate:     make(map[string]error),
		failRemove:     make(map[string]error),
		failRemoveOnce: make(map[string]error),
	}
}

func (f *fakeDriver) exists(uuid string) (bool, error) {
	_, ok := f.byUUID[uuid]
	return ok, nil
}

func (f *fakeDriver) resolveName(uuid string) (string, bool, error) {
	name, ok := f.byUUID[uuid]
	return name, ok, nil
}

func (f *fakeDriver) create(dev dmplan.Device) (string, error) {
	f.createCalls = append(f.createCalls, dev.Name)
	if err := f.failCreate[dev.Name]; err != nil {
		return "", err
	}
	f.byName[dev.Name] = dev
	f.byUUID[dev.UUID] = dev.Name
	return "/dev/mapper/" + dev.Name, nil
}

// children mimics DM_TABLE_DEPS + DM_LIST_DEVICES by scanning the
// device's own target params for "/dev/mapper/<name>" references to
// other devices this fake driver currently has created — the same
// live-state discovery contract realDriver's ioctl-backed children
// gives Remove, so a test can make the create-time and remove-time
// device set diverge without a recomputed plan ever entering it.
func (f *fakeDriver) children(name string) ([]string, error) {
	dev, ok := f.byName[name]
	if !ok {
		return nil, nil
	}

	var children []string
	for _, t := range dev.Targets {
		for _, tok := range strings.Fields(t.Params) {
			child, ok := strings.CutPrefix(tok, "/dev/mapper/")
			if !ok {
				continue
			}
			if _, exists := f.byName[child]; exists {
				children = append(children, child)
			}
		}
	}
	return children, nil
}

func (f *fakeDriver) remove(name string) error {
	f.removeCalls = append(f.removeCalls, name)
	if err := f.failRemoveOnce[name]; err != nil {
		delete(f.failRemoveOnce, name)
		return err
	}
	if err := f.failRemove[name]; err != nil {
		return err
	}
	dev, ok := f.byName[name]
	if !ok {
		return ldmerr.New(ldmerr.External, "no such device %s", name)
	}
	delete(f.byName, name)
	delete(f.byUUID, dev.UUID)
	return nil
}

func (f *fakeDriver) close() error {
	f.closed = true
	return nil
}

func (f *fakeDriver) hasDevice(name string) bool {
	_, ok := f.byName[name]
	return ok
}

var errBoom = fmt.Errorf("boom")
