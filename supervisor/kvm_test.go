// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

func newTestKvm() *kvmHypervisor {
	return &kvmHypervisor{
		exitCh:      make(chan struct{}),
		vcpuThreads: make(map[int]int),
		config: HypervisorConfig{
			NumVCPUs:   2,
			MemorySize: 256,
		},
	}
}

func TestKvmStateString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("KVM not ready", kvmNotReady.String())
	assert.Equal("KVM VM ready", kvmVMReady.String())
}

func TestKvmCreateVMConfidentialGuest(t *testing.T) {
	assert := assert.New(t)

	k := kvmHypervisor{}
	config := &HypervisorConfig{
		KernelPath:        "/vmlinux",
		ImagePath:         "/rootfs",
		ConfidentialGuest: true,
	}

	err := k.CreateVM(context.Background(), "test-vm", NetworkNamespace{}, config)
	assert.Error(err)
	assert.Contains(err.Error(), "confidential guests")
}

func TestKvmCreateVMInvalidConfig(t *testing.T) {
	assert := assert.New(t)

	k := kvmHypervisor{}
	config := &HypervisorConfig{}

	err := k.CreateVM(context.Background(), "test-vm", NetworkNamespace{}, config)
	assert.Error(err)
}

func TestKvmStartVMNoVM(t *testing.T) {
	assert := assert.New(t)

	k := kvmHypervisor{}

	err := k.StartVM(context.Background(), 10)
	assert.Error(err)
}

func TestKvmDeviceName(t *testing.T) {
	assert := assert.New(t)

	name, err := kvmDeviceName(config.BlockDrive{ID: "drive0"}, BlockDev)
	assert.NoError(err)
	assert.Equal("drive0", name)

	name, err = kvmDeviceName(&config.BlockDrive{ID: "drive1"}, BlockDev)
	assert.NoError(err)
	assert.Equal("drive1", name)

	name, err = kvmDeviceName(config.NetDev{ID: "net0"}, NetDev)
	assert.NoError(err)
	assert.Equal("net0", name)

	name, err = kvmDeviceName(&config.NetDev{ID: "net1"}, NetDev)
	assert.NoError(err)
	assert.Equal("net1", name)

	vsock := types.VSock{ContextID: 3, Port: 1024}
	name, err = kvmDeviceName(vsock, VSockPCIDev)
	assert.NoError(err)
	assert.Equal(vsock.String(), name)

	_, err = kvmDeviceName(MemoryDevice{}, MemoryDev)
	assert.Error(err)
}

func TestKvmAttachDevice(t *testing.T) {
	if kvmMMIOSlotCount == 0 {
		t.Skip("no virtio-mmio transport on this host architecture")
	}

	assert := assert.New(t)

	k := newTestKvm()

	id, err := k.attachDevice(config.BlockDrive{ID: "drive0"}, BlockDev)
	assert.NoError(err)
	assert.Contains(id, "virtio-mmio@")
	assert.Len(k.slots, 1)
	assert.Equal(uint64(kvmMMIOBase), k.slots[0].base)
	assert.Equal(uint64(kvmMMIOSlotSize), k.slots[0].size)
	assert.Equal(uint32(kvmMMIOFirstIRQ), k.slots[0].irq)

	id2, err := k.attachDevice(config.NetDev{ID: "net0"}, NetDev)
	assert.NoError(err)
	assert.NotEqual(id, id2)
	assert.Equal(uint64(kvmMMIOBase+kvmMMIOSlotSize), k.slots[1].base)
	assert.Equal(uint32(kvmMMIOFirstIRQ+1), k.slots[1].irq)

	k.nextSlot = kvmMMIOSlotCount
	_, err = k.attachDevice(config.BlockDrive{ID: "overflow"}, BlockDev)
	assert.Error(err)
}

func TestKvmAddDeviceNotReady(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	ctx := context.Background()

	err := k.AddDevice(ctx, config.BlockDrive{ID: "drive0"}, BlockDev)
	assert.NoError(err)
	assert.Len(k.pendingDevices, 1)

	err = k.AddDevice(ctx, config.NetDev{ID: "net0"}, NetDev)
	assert.NoError(err)
	assert.Len(k.pendingDevices, 2)
}

func TestKvmHotplugRoundtrip(t *testing.T) {
	if kvmMMIOSlotCount == 0 {
		t.Skip("no virtio-mmio transport on this host architecture")
	}

	assert := assert.New(t)

	k := newTestKvm()
	ctx := context.Background()

	raw, err := k.HotplugAddDevice(ctx, config.BlockDrive{ID: "hot0"}, BlockDev)
	assert.NoError(err)
	id, ok := raw.(string)
	assert.True(ok)
	assert.NotEmpty(id)

	removed, err := k.HotplugRemoveDevice(ctx, config.BlockDrive{ID: "hot0"}, BlockDev)
	assert.NoError(err)
	assert.Equal(id, removed)

	_, err = k.HotplugRemoveDevice(ctx, config.BlockDrive{ID: "hot0"}, BlockDev)
	assert.Error(err)
}

func TestKvmHotplugUnsupportedDevice(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()

	_, err := k.HotplugAddDevice(context.Background(), MemoryDevice{}, MemoryDev)
	assert.Error(err)
}

func TestKvmCapabilities(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	caps := k.Capabilities(context.Background())

	assert.True(caps.IsBlockDeviceHotplugSupported())
	assert.True(caps.IsNetDeviceHotplugSupported())
	assert.False(caps.IsFsSharingSupported())
	assert.False(caps.IsGuestMemoryResizeSupported())
}

func TestKvmResizeMemory(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()

	mem, dev, err := k.ResizeMemory(context.Background(), 1024, 128, false)
	assert.NoError(err)
	assert.Equal(uint32(256), mem)
	assert.Equal(MemoryDevice{}, dev)
}

func TestKvmResizeVCPUs(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()

	current, next, err := k.ResizeVCPUs(context.Background(), 8)
	assert.NoError(err)
	assert.Equal(uint32(2), current)
	assert.Equal(uint32(2), next)
}

func TestKvmGetPids(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	pids := k.GetPids()

	assert.Len(pids, 1)
	assert.Equal(os.Getpid(), pids[0])
	assert.Nil(k.GetVirtioFsPid())
}

func TestKvmGetThreadIDs(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	k.vcpuThreads[0] = 1234
	k.vcpuThreads[1] = 1235

	tids, err := k.GetThreadIDs(context.Background())
	assert.NoError(err)
	assert.Equal(map[int]int{0: 1234, 1: 1235}, tids.vcpus)

	empty := kvmHypervisor{}
	tids, err = empty.GetThreadIDs(context.Background())
	assert.NoError(err)
	assert.Empty(tids.vcpus)
}

func TestKvmSaveLoadState(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	k.netNSPath = "/var/run/netns/test"

	state := k.Save()
	assert.Equal(string(KvmHypervisor), state.Type)
	assert.Equal(os.Getpid(), state.Pid)
	assert.Equal("/var/run/netns/test", state.NetNSPath)

	restored := kvmHypervisor{}
	restored.Load(state)
	assert.Equal(k.id, restored.id)
	assert.Equal(k.netNSPath, restored.netNSPath)

	// The guest lived in the saving process, so a fresh process
	// cannot reconnect to it.
	assert.Error(restored.Check())
}

func TestKvmCheck(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	assert.Error(k.Check())

	k.stopReq.Store(true)
	assert.Error(k.Check())
}

func TestKvmWatchExit(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()

	select {
	case <-k.watchExit():
		t.Fatal("exit channel closed before notifyExit")
	default:
	}

	k.notifyExit()
	k.notifyExit()

	select {
	case <-k.watchExit():
	default:
		t.Fatal("exit channel still open after notifyExit")
	}

	assert.NotNil(k.watchExit())
}

func TestKvmConsoleOutput(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()

	k.consoleOutput([]byte("boo"))
	assert.Equal("boo", string(k.consoleBuf))

	k.consoleOutput([]byte("ting\r\nnext"))
	assert.Equal("next", string(k.consoleBuf))
}

func TestKvmStopVMNoRunners(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	ctx := context.Background()

	err := k.StopVM(ctx, false)
	assert.NoError(err)
	assert.Equal(kvmNotReady, k.state)

	// Stopping a stopped VM succeeds.
	err = k.StopVM(ctx, false)
	assert.NoError(err)
}

func TestKvmDisconnect(t *testing.T) {
	assert := assert.New(t)

	k := newTestKvm()
	k.setState(kvmVMReady)

	k.Disconnect(context.Background())
	assert.Equal(kvmNotReady, k.state)
}

func TestKvmIsRateLimiterBuiltin(t *testing.T) {
	assert := assert.New(t)

	k := kvmHypervisor{}
	assert.False(k.IsRateLimiterBuiltin())
}
