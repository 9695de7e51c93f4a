// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

func TestFCGenerateSocket(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	i, err := fc.GenerateSocket("a")
	assert.NoError(err)
	assert.NotNil(i)

	hvsock, ok := i.(types.HybridVSock)
	assert.True(ok)
	assert.NotEmpty(hvsock.UdsPath)

	// Path must be absolute
	assert.True(strings.HasPrefix(hvsock.UdsPath, "/"))

	assert.NotZero(hvsock.Port)
}

func TestFCTruncateID(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}

	testLongID := "3ef98eb7c6416be11e0accfed2f4e6560e07f8e33fa8d31922fd4d61747d7ead"
	expectedID := "3ef98eb7c6416be11e0accfed2f4e656"
	id := fc.truncateID(testLongID)
	assert.Equal(expectedID, id)

	testShortID := "3ef98eb7c6416be11"
	expectedID = "3ef98eb7c6416be11"
	id = fc.truncateID(testShortID)
	assert.Equal(expectedID, id)
}

func TestFCParseVersion(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}

	// correct versions
	for rawVersion, v := range map[string]string{"Firecracker v0.23.1": "0.23.1", "Firecracker v0.25.0\nSupported snapshot data format versions: 0.23.0": "0.25.0"} {
		parsedVersion, err := fc.parseVersion(rawVersion)
		assert.NoError(err)
		assert.Equal(parsedVersion, v)
	}

	// wrong version str
	rawVersion := "Firecracker_v0.23.0"
	parsedVersion, err := fc.parseVersion(rawVersion)
	assert.Error(err)
	assert.Equal(parsedVersion, "")
}

func TestFCCheckVersion(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}

	// correct version
	v := "0.23.0"
	err := fc.checkVersion(v)
	assert.NoError(err)

	// version too low
	v = "0.1.1"
	err = fc.checkVersion(v)
	assert.Error(err)
	b := err.Error()
	assert.True(strings.Contains(b, "version 0.1.1 is not supported")) // sanity

	// version is malformed
	v = "Firecracker v0.23.0"
	err = fc.checkVersion(v)
	assert.Error(err)
	b = err.Error()
	assert.True(strings.Contains(b, "Malformed firecracker version:")) // sanity
}

func TestFCGetVersionNumber(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	_, err := fc.getVersionNumber()
	assert.Error(err)
}

func TestFCDriveIndexToID(t *testing.T) {
	assert := assert.New(t)

	d := fcDriveIndexToID(5)
	assert.Equal(d, "drive_5")
}

func TestFCGetVirtioFsPid(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	pid := fc.GetVirtioFsPid()
	assert.Nil(pid)
}

func TestFCIsRateLimiterBuiltin(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	rl := fc.IsRateLimiterBuiltin()
	assert.True(rl)
}

func TestFCCheck(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	err := fc.Check()
	assert.NoError(err)
}

func TestFCGetPids(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	pids := fc.GetPids()
	assert.Equal(len(pids), 1)
}

func TestFCCleanup(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	ctx := context.Background()
	err := fc.Cleanup(ctx)
	assert.NoError(err)
}

func TestFCHypervisorConfig(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	config := fc.HypervisorConfig()
	assert.Equal(fc.config, config)
}

func TestFCClient(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	ctx := context.Background()

	conn := fc.client(ctx)
	assert.Equal(conn, fc.connection)
}

func TestFCVmRunning(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	ctx := context.Background()
	sr := fc.vmRunning(ctx)
	assert.False(sr)
}

func TestFCCreateJailedDrive(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{
		jailerRoot: t.TempDir(),
	}

	driveID := fcDriveIndexToID(0)
	p, err := fc.createJailedDrive(driveID)
	assert.NoError(err)
	assert.Equal(filepath.Join(fc.jailerRoot, driveID), p)

	// relative to the chroot when jailed
	fc.jailed = true
	p, err = fc.createJailedDrive(driveID)
	assert.NoError(err)
	assert.Equal(filepath.Join("/", driveID), p)
}

func TestFcSetConfig(t *testing.T) {
	assert := assert.New(t)

	config := HypervisorConfig{
		HypervisorPath: "/some/where/firecracker",
		KernelPath:     "/some/where/kernel",
		ImagePath:      "/some/where/image",
		JailerPath:     "/some/where/jailer",
		Debug:          true,
	}

	fc := firecracker{}

	assert.Equal(fc.config, HypervisorConfig{})

	err := fc.setConfig(&config)
	assert.NoError(err)

	assert.Equal(fc.config, config)
}

func TestFCAddDeviceNotReady(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	ctx := context.Background()

	// Devices queue up until the VMM configuration is known.
	drive := config.BlockDrive{ID: "drive0", File: "/dev/loop0"}
	err := fc.AddDevice(ctx, drive, BlockDev)
	assert.NoError(err)
	assert.Len(fc.pendingDevices, 1)

	hvs := types.HybridVSock{UdsPath: "/run/test.hvsock", Port: 1024}
	err = fc.AddDevice(ctx, hvs, HybridVirtioVsockDev)
	assert.NoError(err)
	assert.Len(fc.pendingDevices, 2)

	netdev := config.NetDev{IfaceName: "eth0", TapName: "tap0"}
	err = fc.AddDevice(ctx, netdev, NetDev)
	assert.NoError(err)
	assert.Len(fc.pendingDevices, 3)
}

func TestFCCapabilities(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	ctx := context.Background()

	caps := fc.Capabilities(ctx)
	assert.True(caps.IsBlockDeviceHotplugSupported())
	assert.True(caps.IsNetDeviceHotplugSupported())
	assert.False(caps.IsFsSharingSupported())
}

func TestFCHotplugUnsupportedDeviceType(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	ctx := context.Background()

	_, err := fc.HotplugAddDevice(ctx, nil, FsDev)
	assert.Error(err)

	// Interface removal has no API endpoint.
	_, err = fc.HotplugRemoveDevice(ctx, nil, NetDev)
	assert.Error(err)
}

func TestFCResizeMemory(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	fc.config.MemorySize = 128
	ctx := context.Background()

	mem, dev, err := fc.ResizeMemory(ctx, 512, 0, false)
	assert.NoError(err)
	assert.Equal(uint32(128), mem)
	assert.Equal(MemoryDevice{}, dev)
}

func TestFCResizeVCPUs(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	fc.config.NumVCPUs = 2
	ctx := context.Background()

	curr, max, err := fc.ResizeVCPUs(ctx, 4)
	assert.NoError(err)
	assert.Equal(uint32(2), curr)
	assert.Equal(uint32(2), max)
}

func TestFCSaveLoadState(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{
		id:         "vm1",
		jailerRoot: "/run/vs/firecracker/vm1/root",
		netNSPath:  "/var/run/netns/net1",
	}
	fc.info.PID = 1234

	s := fc.Save()
	assert.Equal("vm1", s.ID)
	assert.Equal(1234, s.Pid)
	assert.Equal(string(FirecrackerHypervisor), s.Type)
	assert.Equal(fc.jailerRoot, s.JailRoot)
	assert.Equal(fc.netNSPath, s.NetNSPath)

	var restored firecracker
	restored.Load(s)
	assert.Equal("vm1", restored.id)
	assert.Equal(1234, restored.info.PID)
	assert.Equal(fc.netNSPath, restored.netNSPath)
	assert.Equal(fc.jailerRoot, restored.jailerRoot)
	assert.Equal("/run/vs/firecracker/vm1", restored.vmPath)
	assert.Equal("/run/vs/firecracker/vm1/root/run/firecracker.socket", restored.socketPath)
}

func TestFCHotplugBlockDeviceInvalidIndex(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	_, err := fc.hotplugBlockDevice(context.Background(), &config.BlockDrive{Index: -1}, AddDevice)
	assert.Error(err)
}

func TestFCWaitVMMRunning(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}
	fc.socketPath = filepath.Join(t.TempDir(), fcSocket)

	assert.Error(fc.waitVMMRunning(context.Background(), -1))

	// the API socket never shows up
	err := fc.waitVMMRunning(context.Background(), 0)
	assert.Error(err)
	assert.Contains(err.Error(), "timeout")
}

func TestFCWatchExit(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{exitCh: make(chan struct{})}

	closed := false
	select {
	case <-fc.watchExit():
		closed = true
	default:
	}
	assert.False(closed)

	fc.notifyExit()
	// a second notification must be a no-op
	fc.notifyExit()

	select {
	case <-fc.watchExit():
		closed = true
	default:
	}
	assert.True(closed)
}

func TestFCUpdateMetrics(t *testing.T) {
	assert := assert.New(t)

	fc := firecracker{}

	// Subsystems not surfaced to prometheus are skipped by the decoder.
	line := `{"block":{"read_bytes":1024,"write_bytes":2048},"i8042":{"error_count":1},"vmm":{"panic_count":0}}`
	var fm FirecrackerMetrics
	assert.NoError(json.Unmarshal([]byte(line), &fm))
	assert.Equal(uint64(1024), fm.Block.ReadBytes)
	assert.Equal(uint64(2048), fm.Block.WriteBytes)

	// A malformed line must not bring the fifo reader down.
	fc.updateMetrics("not json")
	fc.updateMetrics(line)
}

func TestFCRevertBytes(t *testing.T) {
	assert := assert.New(t)

	//10MB
	testNum := uint64(10000000)
	expectedNum := uint64(10485760)

	num := revertBytes(testNum)
	assert.Equal(expectedNum, num)
}
