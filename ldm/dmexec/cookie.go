package dmexec

import (
	"context"
	"os"

	"github.com/cenkalti/backoff/v4"
)

// Waiter blocks until a batch of device-mapper creates/removes has
// fully settled. Real device-mapper implements this with
// dm_udev_create_cookie/dm_udev_wait: a netlink cookie every tagged
// task increments, and a semaphore wait until udev has processed
// every corresponding uevent. This package cannot reach that without
// cgo-binding libdevmapper, so it models the same two-phase shape —
// tag a batch of operations, then block on Wait — behind an
// interface. Grounded on the dm_udev_create_cookie/dm_udev_wait call
// sites in ldm.c's _dm_create_spanned, _dm_create_mirrored,
// _dm_create_raid5, and ldm_volume_dm_remove (spec.md §9's
// "Coroutine-like control flow" design note: model the barrier as an
// explicit blocking call between stages).
type Waiter interface {
	// Wait blocks until the device nodes at paths are stable.
	Wait(ctx context.Context, paths ...string) error
}

// pathWaiter is the default Waiter: it polls for the existence of
// each device node with bounded exponential backoff. Since Create
// below makes device nodes synchronously via Mknod (not via an
// asynchronous udev uevent), this mostly just confirms what is already
// true — but it preserves the original's two-phase "create helpers,
// barrier, create top-level device" shape, which matters if a future
// build switches helper creation to go through real udev.
type pathWaiter struct {
	maxRetries uint64
}

func (w pathWaiter) Wait(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.maxRetries), ctx)
		err := backoff.Retry(func() error {
			_, err := os.Stat(p)
			return err
		}, b)
		if err != nil {
			return err
		}
	}
	return nil
}

// noopWaiter never blocks; used by tests and by callers who already
// know their device nodes are synchronously created.
type noopWaiter struct{}

func (noopWaiter) Wait(context.Context, ...string) error { return nil }
