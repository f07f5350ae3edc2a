package dmexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"github.com/mdbooth/libldm/ldm"
	"github.com/mdbooth/libldm/ldm/dmplan"
)

// testVolume is the *ldm.Volume behind both simplePlan and
// mirroredPlan's fixture UUID/name ("LDM-Volume1-guid" /
// "ldm_vol_DG1_Volume1") — both plan shapes describe the same volume.
func testVolume() *ldm.Volume {
	return &ldm.Volume{DGName: "DG1", Name: "Volume1", GUID: "guid"}
}

func TestRemoveSimpleVolume(t *testing.T) {
	d := newFakeDriver()
	_, _, err := create(context.Background(), d, simplePlan(), noopWaiter{})
	require.NoError(t, err)

	name, existed, err := remove(context.Background(), d, testVolume(), DefaultConfig())
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "ldm_vol_DG1_Volume1", name)
	assert.False(t, d.hasDevice("ldm_vol_DG1_Volume1"))
}

// TestRemoveIsIdempotent is spec.md §8's remove_volume round-trip law:
// removing an already-absent volume succeeds and reports existed=false.
func TestRemoveIsIdempotent(t *testing.T) {
	d := newFakeDriver()

	name, existed, err := remove(context.Background(), d, testVolume(), DefaultConfig())
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Empty(t, name)
	assert.Empty(t, d.removeCalls)
}

func TestRemoveMirroredRemovesTopLevelThenHelpers(t *testing.T) {
	d := newFakeDriver()
	_, _, err := create(context.Background(), d, mirroredPlan(), noopWaiter{})
	require.NoError(t, err)

	_, existed, err := remove(context.Background(), d, testVolume(), DefaultConfig())
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []string{"ldm_vol_DG1_Volume1", "ldm_part_DG1_P1", "ldm_part_DG1_P2"}, d.removeCalls)
}

// TestRemoveDiscoversChildrenFromLiveStateNotRecomputedPlan guards
// against reintroducing Remove's former bug: taking a *dmplan.Plan and
// removing plan.Devices instead of discovering the volume's actual
// children. Here a disk has reappeared since Create ran (Create only
// ever saw P1; a fresh Plan call now would additionally find P2 and
// report a three-device plan), but Remove must still only ever see and
// tear down what Create actually made — P1 plus the top-level device —
// because it never consults a plan at all.
func TestRemoveDiscoversChildrenFromLiveStateNotRecomputedPlan(t *testing.T) {
	d := newFakeDriver()

	createTimePlan := &dmplan.Plan{
		Devices: []dmplan.Device{
			{Name: "ldm_part_DG1_P1", UUID: "LDM-P1-guid", Targets: []dmplan.Target{
				{Start: 0, Size: 10000, Type: dmplan.TargetLinear, Params: "/dev/sda 2048"},
			}},
			{Name: "ldm_vol_DG1_Volume1", UUID: "LDM-Volume1-guid", Targets: []dmplan.Target{
				{Start: 0, Size: 10000, Type: dmplan.TargetRaid, Params: "raid1 1 128 2 - /dev/mapper/ldm_part_DG1_P1 - -"},
			}},
		},
	}
	_, _, err := create(context.Background(), d, createTimePlan, noopWaiter{})
	require.NoError(t, err)

	// A plan recomputed now (disk for P2 back online) would differ
	// from createTimePlan, but Remove has no plan parameter to receive
	// it — it can only see what children() reports live.
	recomputedPlan := mirroredPlan()
	require.Len(t, recomputedPlan.Devices, 3, "sanity check: the hypothetical recomputed plan has a P2 device Create never made")

	_, existed, err := remove(context.Background(), d, testVolume(), DefaultConfig())
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []string{"ldm_vol_DG1_Volume1", "ldm_part_DG1_P1"}, d.removeCalls)
}

func TestRemoveRetriesOnBusyThenSucceeds(t *testing.T) {
	d := newFakeDriver()
	plan := simplePlan()
	_, _, err := create(context.Background(), d, plan, noopWaiter{})
	require.NoError(t, err)

	d.failRemoveOnce[plan.VolumeDevice().Name] = &dmError{cmd: cmdDevRemove, err: unix.EBUSY}

	name, existed, err := remove(context.Background(), d, testVolume(), DefaultConfig())
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "ldm_vol_DG1_Volume1", name)
	// Two remove() calls for the top-level device: the EBUSY one and
	// the retry that succeeds.
	assert.Equal(t, []string{"ldm_vol_DG1_Volume1", "ldm_vol_DG1_Volume1"}, d.removeCalls)
}

func TestRemovePropagatesNonBusyErrorImmediately(t *testing.T) {
	d := newFakeDriver()
	plan := simplePlan()
	_, _, err := create(context.Background(), d, plan, noopWaiter{})
	require.NoError(t, err)

	d.failRemove[plan.VolumeDevice().Name] = &dmError{cmd: cmdDevRemove, err: unix.EINVAL}

	_, existed, err := remove(context.Background(), d, testVolume(), DefaultConfig())
	require.Error(t, err)
	assert.False(t, existed)
	assert.Equal(t, []string{"ldm_vol_DG1_Volume1"}, d.removeCalls, "a non-retryable error must not be retried")
}
