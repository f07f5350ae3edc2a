package dmexec

import (
	"context"

	"github.com/mdbooth/libldm/ldm/dmplan"
	"github.com/mdbooth/libldm/ldm/ldmlog"
)

// Create materializes plan's device-mapper devices in order: helper
// devices first (if any), then the top-level volume device whose
// table references them. Grounded on ldm_volume_dm_create, including
// its upfront idempotence check — if a device already carries the
// volume's UUID, Create reports existed=true and does nothing else,
// satisfying spec.md §8's "create_volume is idempotent" law.
//
// w is the barrier a caller waits on between creating a batch of
// devices and trusting their nodes are stable; pass nil to use the
// default path-polling Waiter built from cfg.
func Create(ctx context.Context, plan *dmplan.Plan, cfg Config, w Waiter) (created string, existed bool, err error) {
	log := ldmlog.Entry("dmexec.Create")
	defer ldmlog.Enter(log, "Create")()

	if w == nil {
		w = pathWaiter{maxRetries: cfg.WaitMaxRetries}
	}

	d, err := openRealDriver()
	if err != nil {
		return "", false, err
	}
	return create(ctx, d, plan, w)
}

// create is Create's driver-agnostic body, split out so tests can pass
// a fake driver instead of opening /dev/mapper/control.
func create(ctx context.Context, d driver, plan *dmplan.Plan, w Waiter) (created string, existed bool, err error) {
	defer func() { _ = d.close() }()

	vol := plan.VolumeDevice()

	exists, err := d.exists(vol.UUID)
	if err != nil {
		return "", false, err
	}
	if exists {
		return vol.Name, true, nil
	}

	var createdNames, createdPaths []string
	rollback := func() {
		for i := len(createdNames) - 1; i >= 0; i-- {
			_ = d.remove(createdNames[i])
		}
	}

	for i, dev := range plan.Devices {
		// Barrier before the top-level device: its table references the
		// helper devices by path.
		if i == len(plan.Devices)-1 && len(createdPaths) > 0 {
			if err := w.Wait(ctx, createdPaths...); err != nil {
				rollback()
				return "", false, err
			}
		}
		path, err := d.create(dev)
		if err != nil {
			rollback()
			return "", false, err
		}
		createdNames = append(createdNames, dev.Name)
		createdPaths = append(createdPaths, path)
	}

	if err := w.Wait(ctx, createdPaths...); err != nil {
		rollback()
		return "", false, err
	}

	return vol.Name, false, nil
}
