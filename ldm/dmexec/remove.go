package dmexec

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/cenkalti/backoff/v4"

	"github.com/mdbooth/libldm/ldm"
	"github.com/mdbooth/libldm/ldm/dmplan"
	"github.com/mdbooth/libldm/ldm/ldmlog"
)

// Remove tears down vol's device-mapper devices: the top-level volume
// device first, then its children, discovered from live device-mapper
// state rather than a recomputed plan. Grounded on ldm_volume_dm_remove,
// including its upfront idempotence check — if no device carries the
// volume's UUID, Remove reports existed=false and removes nothing,
// satisfying spec.md §8's "remove_volume is idempotent" law.
//
// Remove deliberately takes *ldm.Volume, not a *dmplan.Plan: the plan
// that created vol's devices may no longer describe them. A rescan
// between Create and Remove can see more or fewer disks than were
// present at creation time (a disk reappearing, another going
// missing), which changes what dmplan.Plan would build — Plan's
// degraded-leg encoding depends entirely on which disks are present
// right now. ldm_volume_dm_remove never recomputes anything: it finds
// the live tree node by UUID and calls dm_tree_deactivate_children,
// discovering children from the kernel's own dependency graph
// (ldm.c:3150-3204). Remove does the same via resolveName
// (DM_DEV_STATUS) and children (DM_TABLE_DEPS + DM_LIST_DEVICES), so a
// plan drift since Create can never cause Remove to skip a helper
// device that's actually there or fail on one that was never created.
//
// Busy devices (EBUSY, typically a lingering open filehandle from an
// unmounted filesystem) are retried with bounded exponential backoff
// per cfg, generalizing the original's fixed 10x10ms retry loop.
func Remove(ctx context.Context, vol *ldm.Volume, cfg Config) (removed string, existed bool, err error) {
	log := ldmlog.Entry("dmexec.Remove")
	defer ldmlog.Enter(log, "Remove")()

	d, err := openRealDriver()
	if err != nil {
		return "", false, err
	}
	return remove(ctx, d, vol, cfg)
}

func remove(ctx context.Context, d driver, vol *ldm.Volume, cfg Config) (removed string, existed bool, err error) {
	defer func() { _ = d.close() }()

	uuid := dmplan.VolUUID(vol)

	name, exists, err := d.resolveName(uuid)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}

	children, err := d.children(name)
	if err != nil {
		return "", false, err
	}

	if err := removeWithRetry(ctx, d, name, cfg); err != nil {
		return "", false, err
	}

	for _, child := range children {
		if err := removeWithRetry(ctx, d, child, cfg); err != nil {
			return "", false, err
		}
	}

	return name, true, nil
}

func removeWithRetry(ctx context.Context, d driver, name string, cfg Config) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = cfg.RemoveMaxElapsed
	b := backoff.WithContext(backoff.WithMaxRetries(eb, cfg.RemoveMaxRetries), ctx)
	return backoff.Retry(func() error {
		err := d.remove(name)
		if err == nil {
			return nil
		}
		var dmErr *dmError
		if errors.As(err, &dmErr) && errors.Is(dmErr.err, unix.EBUSY) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
