// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	persistapi "github.com/confidential-containers/virtsupervisor/supervisor/persist/api"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

func newTestControllerConfig(id string) ControllerConfig {
	return ControllerConfig{
		ID:             id,
		HypervisorType: MockHypervisor,
		HypervisorConfig: HypervisorConfig{
			KernelPath: "/vmlinux",
			ImagePath:  "/rootfs",
		},
	}
}

func TestControllerConfigValid(t *testing.T) {
	assert := assert.New(t)

	controllerConfig := ControllerConfig{
		HypervisorType: MockHypervisor,
		HypervisorConfig: HypervisorConfig{
			KernelPath: "/vmlinux",
			ImagePath:  "/rootfs",
		},
	}

	var configErr *ConfigError

	// no sandbox id
	err := controllerConfig.Valid()
	assert.ErrorAs(err, &configErr)

	controllerConfig.ID = "sbx-valid"
	assert.NoError(controllerConfig.Valid())

	controllerConfig.HypervisorConfig.Jailed = true
	err = controllerConfig.Valid()
	assert.ErrorAs(err, &configErr)
}

func TestNewLifecycleControllerJailedNeedsJailerPath(t *testing.T) {
	assert := assert.New(t)

	controllerConfig := newTestControllerConfig("sbx-jailed")
	controllerConfig.HypervisorConfig.Jailed = true

	lc, err := NewLifecycleController(context.Background(), controllerConfig)
	assert.Nil(lc)

	var configErr *ConfigError
	assert.ErrorAs(err, &configErr)
}

func TestNewLifecycleControllerGeneratesID(t *testing.T) {
	assert := assert.New(t)

	lc, err := NewLifecycleController(context.Background(), newTestControllerConfig(""))
	assert.NoError(err)
	assert.True(strings.HasPrefix(lc.ID(), "vm-"))

	lc2, err := NewLifecycleController(context.Background(), newTestControllerConfig(""))
	assert.NoError(err)
	assert.NotEqual(lc.ID(), lc2.ID())
}

func TestControllerLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-1"))
	assert.NoError(err)
	assert.Equal(types.StateNotReady, lc.State())
	assert.Equal("sbx-1", lc.ID())

	err = lc.QueueDevice(ctx, PendingDevice{
		DevInfo: &config.BlockDrive{ID: "root", File: "/dev/vda"},
		DevType: BlockDev,
	})
	assert.NoError(err)
	assert.Len(lc.pending, 1)

	err = lc.Start(ctx, "")
	assert.NoError(err)
	assert.Equal(types.StateRunning, lc.State())
	assert.Empty(lc.pending)

	backendID, ok := lc.BackendDeviceID("root")
	assert.True(ok)
	assert.Equal("mock_root", backendID)
	assert.Equal([]string{"root"}, lc.AttachedDeviceIDs())

	state, err := lc.Save()
	assert.NoError(err)
	assert.Equal("sbx-1", state.ID)
	assert.Equal(string(types.StateRunning), state.State)
	assert.Equal(persistapi.CurrentPersistVersion, state.PersistVersion)
	assert.Equal(string(MockHypervisor), state.HypervisorState.Type)

	err = lc.Stop(ctx)
	assert.NoError(err)
	assert.Equal(types.StateStopped, lc.State())

	// stopping a stopped controller stays a no-op
	err = lc.Stop(ctx)
	assert.NoError(err)
	assert.Equal(types.StateStopped, lc.State())
}

func TestControllerQueueDrainOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-order"))
	assert.NoError(err)

	devices := []PendingDevice{
		{DevInfo: &config.BlockDrive{ID: "vda"}, DevType: BlockDev},
		{DevInfo: &config.NetDev{ID: "eth0", TapName: "tap0"}, DevType: NetDev},
		{DevInfo: &config.BlockDrive{ID: "vdb"}, DevType: BlockDev},
	}
	for _, dev := range devices {
		assert.NoError(lc.QueueDevice(ctx, dev))
	}
	assert.Len(lc.pending, 3)

	assert.NoError(lc.Start(ctx, ""))

	assert.Equal([]string{"vda", "eth0", "vdb"}, lc.AttachedDeviceIDs())
	for _, id := range []string{"vda", "eth0", "vdb"} {
		backendID, ok := lc.BackendDeviceID(id)
		assert.True(ok)
		assert.Equal("mock_"+id, backendID)
	}

	assert.NoError(lc.Stop(ctx))
}

func TestControllerQueueDeviceValidation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-queue"))
	assert.NoError(err)

	// a device without an id cannot be tracked
	err = lc.QueueDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{}, DevType: BlockDev})
	assert.Error(err)

	// configuration and tag have to agree
	err = lc.QueueDevice(ctx, PendingDevice{DevInfo: &config.NetDev{ID: "eth0"}, DevType: BlockDev})
	assert.Error(err)

	// only hot-addable device kinds are queueable
	err = lc.QueueDevice(ctx, PendingDevice{DevInfo: &MemoryDevice{SizeMB: 128}, DevType: MemoryDev})
	assert.Error(err)

	assert.Empty(lc.pending)

	// value configurations are normalized to the pointer form the
	// drivers type-assert on
	err = lc.QueueDevice(ctx, PendingDevice{DevInfo: config.BlockDrive{ID: "vda"}, DevType: BlockDev})
	assert.NoError(err)
	assert.Len(lc.pending, 1)
	_, isPointer := lc.pending[0].dev.DevInfo.(*config.BlockDrive)
	assert.True(isPointer)

	// queueing the same id twice is rejected
	err = lc.QueueDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{ID: "vda"}, DevType: BlockDev})
	assert.Error(err)
	assert.Len(lc.pending, 1)

	// the agent vsock is not a caller-visible device
	err = lc.QueueDevice(ctx, PendingDevice{DevInfo: types.VSock{ContextID: 3}, DevType: VSockPCIDev})
	assert.Error(err)
	assert.Len(lc.pending, 1)

	// VFIO passthrough is queueable like block and net
	err = lc.QueueDevice(ctx, PendingDevice{DevInfo: config.VFIODev{ID: "gpu0", BDF: "0000:01:00.0"}, DevType: VfioDev})
	assert.NoError(err)
	assert.Len(lc.pending, 2)
	_, isPointer = lc.pending[1].dev.DevInfo.(*config.VFIODev)
	assert.True(isPointer)
}

func TestControllerQueueDeviceAfterStop(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-late"))
	assert.NoError(err)
	assert.NoError(lc.Start(ctx, ""))
	assert.NoError(lc.Stop(ctx))

	err = lc.QueueDevice(ctx, PendingDevice{
		DevInfo: &config.BlockDrive{ID: "late"},
		DevType: BlockDev,
	})

	var invalidErr *InvalidStateError
	assert.ErrorAs(err, &invalidErr)
	assert.Equal(types.StateStopped, invalidErr.State)
	assert.Empty(lc.pending)
}

func TestControllerHotAddWhileRunning(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-hotadd"))
	assert.NoError(err)
	assert.NoError(lc.Start(ctx, ""))

	// the backend supports post-boot hot-add, so a late request is
	// attached immediately instead of being rejected
	err = lc.QueueDevice(ctx, PendingDevice{
		DevInfo: &config.BlockDrive{ID: "data"},
		DevType: BlockDev,
	})
	assert.NoError(err)
	assert.Empty(lc.pending)

	backendID, ok := lc.BackendDeviceID("data")
	assert.True(ok)
	assert.Equal("mock_data", backendID)

	assert.NoError(lc.Stop(ctx))
}

func TestControllerStartTwice(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-twice"))
	assert.NoError(err)
	assert.NoError(lc.Start(ctx, ""))

	err = lc.Start(ctx, "")
	var invalidErr *InvalidStateError
	assert.ErrorAs(err, &invalidErr)
	assert.Equal(types.StateRunning, invalidErr.State)

	assert.NoError(lc.Stop(ctx))
}

// flakyHotplugHypervisor fails the hotplug of one marked device.
type flakyHotplugHypervisor struct {
	*mockHypervisor
	failID string
}

func (f *flakyHotplugHypervisor) HotplugAddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	if drive, ok := devInfo.(*config.BlockDrive); ok && drive.ID == f.failID {
		return nil, errors.New("no bus slot left")
	}
	return f.mockHypervisor.HotplugAddDevice(ctx, devInfo, devType)
}

func TestControllerHotplugPartialFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-flaky"))
	assert.NoError(err)
	lc.hypervisor = &flakyHotplugHypervisor{
		mockHypervisor: lc.hypervisor.(*mockHypervisor),
		failID:         "bad",
	}

	for _, dev := range []PendingDevice{
		{DevInfo: &config.BlockDrive{ID: "vda"}, DevType: BlockDev},
		{DevInfo: &config.BlockDrive{ID: "bad"}, DevType: BlockDev},
		{DevInfo: &config.BlockDrive{ID: "vdb"}, DevType: BlockDev},
	} {
		assert.NoError(lc.QueueDevice(ctx, dev))
	}

	err = lc.Start(ctx, "")
	var hotplugErr *HotplugError
	assert.ErrorAs(err, &hotplugErr)
	assert.Equal("bad", hotplugErr.Failed)
	assert.Equal([]string{"vda"}, hotplugErr.Attached)

	// the guest booted and the first device stays attached, nothing
	// is rolled back
	assert.Equal(types.StateRunning, lc.State())
	assert.Equal([]string{"vda"}, lc.AttachedDeviceIDs())

	// the failed entry and everything behind it stay queued
	assert.Len(lc.pending, 2)
	assert.Equal("bad", lc.pending[0].id)

	// cleanup is the caller's move
	assert.NoError(lc.RemoveDevice(ctx, "vda"))
	assert.NoError(lc.Stop(ctx))
}

func TestControllerExitNotify(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-notify"))
	assert.NoError(err)
	assert.NoError(lc.Start(ctx, ""))

	ch, err := lc.ExitNotify()
	assert.NoError(err)
	assert.NotNil(ch)

	// there is exactly one notifier per controller lifetime
	_, err = lc.ExitNotify()
	assert.Error(err)

	// an orderly stop never fires it
	assert.NoError(lc.Stop(ctx))
	select {
	case <-ch:
		t.Fatal("exit notifier fired during an orderly stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControllerExitNotification(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-died"))
	assert.NoError(err)
	assert.NoError(lc.Start(ctx, ""))

	ch, err := lc.ExitNotify()
	assert.NoError(err)

	// the VMM dying on its own must reach the notifier
	mock := lc.hypervisor.(*mockHypervisor)
	assert.NoError(mock.StopVM(ctx, false))

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("exit notification never fired")
	}

	assert.NoError(lc.Stop(ctx))
}

func TestControllerRemoveDevice(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-remove"))
	assert.NoError(err)

	assert.NoError(lc.QueueDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{ID: "root"}, DevType: BlockDev}))
	assert.NoError(lc.QueueDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{ID: "data"}, DevType: BlockDev}))

	// nothing is attached before boot
	err = lc.RemoveDevice(ctx, "root")
	var invalidErr *InvalidStateError
	assert.ErrorAs(err, &invalidErr)

	assert.NoError(lc.Start(ctx, ""))
	assert.Equal([]string{"root", "data"}, lc.AttachedDeviceIDs())

	assert.NoError(lc.RemoveDevice(ctx, "data"))
	assert.Equal([]string{"root"}, lc.AttachedDeviceIDs())
	_, ok := lc.BackendDeviceID("data")
	assert.False(ok)

	err = lc.RemoveDevice(ctx, "data")
	assert.Error(err)

	assert.NoError(lc.Stop(ctx))

	err = lc.RemoveDevice(ctx, "root")
	assert.ErrorAs(err, &invalidErr)
}

func TestControllerSaveRestoreRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	controllerConfig := newTestControllerConfig("sbx-rt")
	controllerConfig.HypervisorConfig.NumVCPUs = 2
	controllerConfig.HypervisorConfig.MemorySize = 512
	controllerConfig.HypervisorConfig.KernelParams = []Param{{Key: "console", Value: "hvc0"}}

	lc, err := NewLifecycleController(ctx, controllerConfig)
	assert.NoError(err)

	assert.NoError(lc.QueueDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{ID: "root"}, DevType: BlockDev}))
	assert.NoError(lc.Start(ctx, ""))
	lc.SetGuestMemoryBlockSizeMB(128)

	saved, err := lc.Save()
	assert.NoError(err)
	assert.Equal("sbx-rt", saved.ID)
	assert.Equal(string(types.StateRunning), saved.State)

	restored, err := RestoreLifecycleController(ctx, saved)
	assert.NoError(err)
	assert.Equal(types.StateNotReady, restored.State())
	assert.Equal("none", restored.GuestProtection())
	assert.Equal([]string{"root"}, restored.AttachedDeviceIDs())

	backendID, ok := restored.BackendDeviceID("root")
	assert.True(ok)
	assert.Equal("mock_root", backendID)

	// a restored controller re-arms, it never boots again
	err = restored.Start(ctx, "")
	var invalidErr *InvalidStateError
	assert.ErrorAs(err, &invalidErr)

	// what it writes back is what was read in
	again, err := restored.Save()
	assert.NoError(err)
	assert.Equal(saved, again)

	assert.NoError(restored.ArmExitNotifier())
	assert.Equal(types.StateRunning, restored.State())

	// arming twice is rejected
	assert.Error(restored.ArmExitNotifier())

	assert.NoError(restored.Stop(ctx))
	assert.NoError(lc.Stop(ctx))
}

func TestControllerRestoreRecordGates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// records from a newer format are refused
	state := persistapi.VMState{PersistVersion: persistapi.CurrentPersistVersion + 1, ID: "sbx-new"}
	_, err := RestoreLifecycleController(ctx, state)
	assert.Error(err)

	var configErr *ConfigError

	// a record without a sandbox id is unusable
	state = persistapi.VMState{PersistVersion: persistapi.CurrentPersistVersion}
	_, err = RestoreLifecycleController(ctx, state)
	assert.ErrorAs(err, &configErr)

	// so is one naming an unknown backend
	state.ID = "sbx-ghost"
	state.HypervisorState.Type = "no-such-vmm"
	_, err = RestoreLifecycleController(ctx, state)
	assert.ErrorAs(err, &configErr)
}

func TestDeviceIDMap(t *testing.T) {
	assert := assert.New(t)

	m := newDeviceIDMap()
	assert.Equal(0, m.Len())

	m.add("a", "pci-1", BlockDev, nil)
	m.add("b", "pci-2", NetDev, nil)
	assert.Equal([]string{"a", "b"}, m.IDs())

	// re-adding keeps the position and refreshes the backend id
	m.add("a", "pci-9", BlockDev, nil)
	assert.Equal([]string{"a", "b"}, m.IDs())
	backendID, ok := m.BackendID("a")
	assert.True(ok)
	assert.Equal("pci-9", backendID)

	m.remove("a")
	assert.Equal([]string{"b"}, m.IDs())
	_, ok = m.BackendID("a")
	assert.False(ok)

	// removing an absent id changes nothing
	m.remove("a")
	assert.Equal(1, m.Len())
}

func TestControllerErrorUnwrap(t *testing.T) {
	assert := assert.New(t)

	base := errors.New("boom")

	assert.ErrorIs(&StartFailedError{Backend: MockHypervisor, Err: base}, base)
	assert.ErrorIs(&HotplugError{Failed: "vda", Err: base}, base)
	assert.ErrorIs(&ConfigError{Err: base}, base)
}

func TestControllerGuestProtectionReport(t *testing.T) {
	assert := assert.New(t)

	lc, err := NewLifecycleController(context.Background(), newTestControllerConfig("sbx-prot"))
	assert.NoError(err)
	assert.Equal("none", lc.GuestProtection())
}

func TestControllerAddDevice(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	lc, err := NewLifecycleController(ctx, newTestControllerConfig("sbx-add"))
	assert.NoError(err)

	// nothing to hot-add to before boot
	_, err = lc.AddDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{ID: "swap"}, DevType: BlockDev})
	var invalidErr *InvalidStateError
	assert.ErrorAs(err, &invalidErr)
	assert.Equal(types.StateNotReady, invalidErr.State)

	assert.NoError(lc.Start(ctx, ""))

	backendID, err := lc.AddDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{ID: "swap"}, DevType: BlockDev})
	assert.NoError(err)
	assert.Equal("mock_swap", backendID)
	assert.Empty(lc.pending)

	_, err = lc.AddDevice(ctx, PendingDevice{DevInfo: &config.BlockDrive{ID: "swap"}, DevType: BlockDev})
	assert.Error(err)

	// the backend reports no id for VFIO, the logical id stands in
	backendID, err = lc.AddDevice(ctx, PendingDevice{DevInfo: &config.VFIODev{ID: "gpu0", BDF: "0000:01:00.0"}, DevType: VfioDev})
	assert.NoError(err)
	assert.Equal("gpu0", backendID)
	assert.Equal([]string{"swap", "gpu0"}, lc.AttachedDeviceIDs())

	assert.NoError(lc.RemoveDevice(ctx, "gpu0"))
	assert.Equal([]string{"swap"}, lc.AttachedDeviceIDs())

	assert.NoError(lc.Stop(ctx))
}

func TestControllerCapabilities(t *testing.T) {
	assert := assert.New(t)

	lc, err := NewLifecycleController(context.Background(), newTestControllerConfig("sbx-caps"))
	assert.NoError(err)

	caps := lc.Capabilities(context.Background())
	assert.True(caps.IsBlockDeviceHotplugSupported())
	assert.True(caps.IsNetDeviceHotplugSupported())
	assert.False(caps.IsFsSharingSupported())
}
