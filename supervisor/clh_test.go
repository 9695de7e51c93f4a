// Copyright (c) 2019 Ericsson Eurolab Deutschland G.m.b.H.
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/supervisor/persist"
	chclient "github.com/confidential-containers/virtsupervisor/supervisor/pkg/chclient"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
	"github.com/confidential-containers/virtsupervisor/supervisor/utils"
)

const (
	FAIL = true
	PASS = !FAIL
)

func newClhConfig() (HypervisorConfig, error) {

	setupClh()

	if testClhPath == "" {
		return HypervisorConfig{}, errors.New("hypervisor fake path is empty")
	}

	if testVirtiofsdPath == "" {
		return HypervisorConfig{}, errors.New("virtiofsd fake path is empty")
	}

	if _, err := os.Stat(testClhPath); os.IsNotExist(err) {
		return HypervisorConfig{}, err
	}

	if _, err := os.Stat(testVirtiofsdPath); os.IsNotExist(err) {
		return HypervisorConfig{}, err
	}

	return HypervisorConfig{
		KernelPath:         testClhKernelPath,
		ImagePath:          testClhImagePath,
		HypervisorPath:     testClhPath,
		NumVCPUs:           defaultVCPUs,
		BlockDeviceDriver:  config.VirtioBlock,
		MemorySize:         defaultMemSzMiB,
		DefaultMaxVCPUs:    defaultMaxVCPUs,
		SharedFS:           config.VirtioFS,
		VirtioFSCache:      typeVirtioFSCacheModeAlways,
		VirtioFSDaemon:     testVirtiofsdPath,
		EntropySource:      defaultEntropySource,
		VMStartTimeoutSecs: defaultVMStartTimeoutSecs,
	}, nil
}

type clhClientMock struct {
	vmInfo chclient.VmInfo
}

func (c *clhClientMock) VmmPingGet(ctx context.Context) (chclient.VmmPingResponse, *http.Response, error) {
	return chclient.VmmPingResponse{Version: "v25.0.0"}, nil, nil
}

func (c *clhClientMock) ShutdownVMM(ctx context.Context) (*http.Response, error) {
	return nil, nil
}

func (c *clhClientMock) CreateVM(ctx context.Context, vmConfig chclient.VmConfig) (*http.Response, error) {
	c.vmInfo.State = clhStateCreated
	return nil, nil
}

//nolint:golint
func (c *clhClientMock) VmInfoGet(ctx context.Context) (chclient.VmInfo, *http.Response, error) {
	return c.vmInfo, nil, nil
}

func (c *clhClientMock) BootVM(ctx context.Context) (*http.Response, error) {
	c.vmInfo.State = clhStateRunning
	return nil, nil
}

//nolint:golint
func (c *clhClientMock) VmResizePut(ctx context.Context, vmResize chclient.VmResize) (*http.Response, error) {
	return nil, nil
}

//nolint:golint
func (c *clhClientMock) VmAddDevicePut(ctx context.Context, vmAddDevice chclient.VmAddDevice) (chclient.PciDeviceInfo, *http.Response, error) {
	return chclient.PciDeviceInfo{}, nil, nil
}

//nolint:golint
func (c *clhClientMock) VmAddDiskPut(ctx context.Context, diskConfig chclient.DiskConfig) (chclient.PciDeviceInfo, *http.Response, error) {
	return chclient.PciDeviceInfo{Bdf: "0000:00:0a.0"}, nil, nil
}

//nolint:golint
func (c *clhClientMock) VmAddNetPut(ctx context.Context, netConfig chclient.NetConfig) (chclient.PciDeviceInfo, *http.Response, error) {
	return chclient.PciDeviceInfo{Id: "_net0", Bdf: "0000:00:0b.0"}, nil, nil
}

//nolint:golint
func (c *clhClientMock) VmRemoveDevicePut(ctx context.Context, vmRemoveDevice chclient.VmRemoveDevice) (*http.Response, error) {
	return nil, nil
}

func TestCloudHypervisorAddVSock(t *testing.T) {
	assert := assert.New(t)
	clh := cloudHypervisor{}

	clh.addVSock(1, "path")
	assert.Equal(clh.vmconfig.Vsock.Cid, int64(1))
	assert.Equal(clh.vmconfig.Vsock.Socket, "path")
}

// Check addNet appends to the network config list new configurations.
// Check that the elements in the list has the correct values
func TestCloudHypervisorAddNetCheckNetConfigListValues(t *testing.T) {
	macTest := "00:00:00:00:00"
	tapPath := "/path/to/tap"

	assert := assert.New(t)

	clh := cloudHypervisor{}

	dev := config.NetDev{
		ID:         "eth0",
		TapName:    tapPath,
		MacAddress: macTest,
	}

	err := clh.addNet(dev)
	assert.Nil(err)

	assert.Equal(len(*clh.vmconfig.Net), 1)
	if err == nil {
		assert.Equal(*(*clh.vmconfig.Net)[0].Mac, macTest)
		assert.Equal(*(*clh.vmconfig.Net)[0].Tap, tapPath)
	}

	err = clh.addNet(dev)
	assert.Nil(err)

	assert.Equal(len(*clh.vmconfig.Net), 2)
	if err == nil {
		assert.Equal(*(*clh.vmconfig.Net)[1].Mac, macTest)
		assert.Equal(*(*clh.vmconfig.Net)[1].Tap, tapPath)
	}
}

// Check addNet with valid values, and fail with invalid values
// For Cloud Hypervisor only the tap name is required
func TestCloudHypervisorAddNetCheckDeviceValues(t *testing.T) {
	assert := assert.New(t)

	tapPath := "/path/to/tap"

	tests := []struct {
		name    string
		dev     config.NetDev
		wantErr bool
	}{
		{"Empty NetDev", config.NetDev{}, true},
		{"Tap only", config.NetDev{TapName: tapPath}, false},
		{"Tap and MAC", config.NetDev{TapName: tapPath, MacAddress: "02:00:ca:fe:00:01"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clh := &cloudHypervisor{}
			if err := clh.addNet(tt.dev); (err != nil) != tt.wantErr {
				t.Errorf("cloudHypervisor.addNet() error = %v, wantErr %v", err, tt.wantErr)
			} else if err == nil {
				assert.Equal(*(*clh.vmconfig.Net)[0].Tap, tapPath)
			}
		})
	}
}

func TestCloudHypervisorBootVM(t *testing.T) {
	clh := &cloudHypervisor{}
	clh.APIClient = &clhClientMock{}
	if err := clh.bootVM(context.Background()); err != nil {
		t.Errorf("cloudHypervisor.bootVM() error = %v", err)
	}
}

func TestCloudHypervisorCleanupVM(t *testing.T) {
	assert := assert.New(t)
	store, err := persist.GetDriver()
	assert.NoError(err, "persist.GetDriver() unexpected error")

	clh := &cloudHypervisor{
		store: store,
	}

	err = clh.cleanupVM(true)
	assert.Error(err, "persist.GetDriver() expected error")

	clh.id = "cleanVMID"

	err = clh.cleanupVM(true)
	assert.NoError(err, "persist.GetDriver() unexpected error")

	dir := filepath.Join(clh.store.RunVMStoragePath(), clh.id)
	os.MkdirAll(dir, os.ModePerm)

	err = clh.cleanupVM(false)
	assert.NoError(err, "persist.GetDriver() unexpected error")

	_, err = os.Stat(dir)
	assert.Error(err, "dir should not exist %s", dir)

	assert.True(os.IsNotExist(err), "persist.GetDriver() unexpected error")
}

func TestClhCreateVM(t *testing.T) {
	assert := assert.New(t)

	clhConfig, err := newClhConfig()
	assert.NoError(err)

	store, err := persist.GetDriver()
	assert.NoError(err)

	clh := &cloudHypervisor{
		config: clhConfig,
		store:  store,
	}

	err = clh.CreateVM(context.Background(), testVMID, NetworkNamespace{}, &clhConfig)
	assert.NoError(err)
	assert.Exactly(clhConfig, clh.config)
	assert.NotNil(clh.virtiofsd, "a virtio-fs daemon must be set up")
	assert.Equal(clh.vmconfig.Kernel.Path, clhConfig.KernelPath)
}

func TestClhSaveLoadReattach(t *testing.T) {
	assert := assert.New(t)

	clhConfig, err := newClhConfig()
	assert.NoError(err)

	store, err := persist.GetDriver()
	assert.NoError(err)

	clh := &cloudHypervisor{
		config: clhConfig,
		store:  store,
	}

	err = clh.CreateVM(context.Background(), testVMID, NetworkNamespace{NetNsPath: "/var/run/netns/vs-test"}, &clhConfig)
	assert.NoError(err)

	clh.state.PID = 42
	clh.state.VirtiofsdPID = 43

	state := clh.Save()
	assert.Equal(testVMID, state.ID)
	assert.Equal(clh.state.apiSocket, state.APISocket)
	assert.Equal(43, state.VirtiofsDaemonPid)

	restored := &cloudHypervisor{}
	assert.NoError(restored.setConfig(&clhConfig))
	restored.Load(state)

	assert.Equal(testVMID, restored.id)
	assert.Equal(clh.state.apiSocket, restored.state.apiSocket)
	assert.Equal("/var/run/netns/vs-test", restored.netNSPath)
	assert.NotNil(restored.store, "the VM store must be reopened on load")
	assert.NotNil(restored.APIClient, "the API client must be rebuilt on load")
	assert.NotNil(restored.virtiofsd, "the virtiofsd handle must be rebuilt on load")
	assert.Equal(43, restored.state.VirtiofsdPID)

	// A health check right after a restore talks to the VMM socket; with
	// no VMM behind it the call fails, but it must never dereference a
	// missing client.
	assert.NotPanics(func() { restored.Check() })

	restored.APIClient = &clhClientMock{}
	assert.NoError(restored.Check())
}

func TestClhStartVM(t *testing.T) {
	assert := assert.New(t)
	clhConfig, err := newClhConfig()
	assert.NoError(err)

	store, err := persist.GetDriver()
	assert.NoError(err)

	clh := &cloudHypervisor{
		config:    clhConfig,
		APIClient: &clhClientMock{},
		virtiofsd: &virtiofsdMock{},
		store:     store,
	}

	err = clh.StartVM(context.Background(), 10)
	assert.NoError(err)
	assert.Equal(clh.state.state, clhReady)
}

func TestCloudHypervisorResizeMemory(t *testing.T) {
	assert := assert.New(t)
	clhConfig, err := newClhConfig()
	type args struct {
		reqMemMB          uint32
		memoryBlockSizeMB uint32
	}
	tests := []struct {
		name           string
		args           args
		expectedMemDev MemoryDevice
		wantErr        bool
	}{
		{"Resize to zero", args{0, 128}, MemoryDevice{Probe: false, SizeMB: 0}, FAIL},
		{"Resize to aligned size", args{clhConfig.MemorySize + 128, 128}, MemoryDevice{Probe: false, SizeMB: 128}, PASS},
		{"Resize to aligned size", args{clhConfig.MemorySize + 129, 128}, MemoryDevice{Probe: false, SizeMB: 256}, PASS},
		{"Resize to NOT aligned size", args{clhConfig.MemorySize + 125, 128}, MemoryDevice{Probe: false, SizeMB: 128}, PASS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(err)
			clh := cloudHypervisor{}

			mockClient := &clhClientMock{}
			mockClient.vmInfo.Config.Memory = chclient.NewMemoryConfig(int64((utils.MemUnit(clhConfig.MemorySize) * utils.MiB).ToBytes()))
			mockClient.vmInfo.Config.Memory.HotplugSize = func(i int64) *int64 { return &i }(int64(40 * utils.GiB.ToBytes()))

			clh.APIClient = mockClient
			clh.config = clhConfig

			newMem, memDev, err := clh.ResizeMemory(context.Background(), tt.args.reqMemMB, tt.args.memoryBlockSizeMB, false)

			if (err != nil) != tt.wantErr {
				t.Errorf("cloudHypervisor.ResizeMemory() error = %v, expected to fail = %v", err, tt.wantErr)
				return
			}

			if err != nil {
				return
			}

			expectedMem := clhConfig.MemorySize + uint32(tt.expectedMemDev.SizeMB)

			if newMem != expectedMem {
				t.Errorf("cloudHypervisor.ResizeMemory() got = %+v, want %+v", newMem, expectedMem)
			}

			if !reflect.DeepEqual(memDev, tt.expectedMemDev) {
				t.Errorf("cloudHypervisor.ResizeMemory() got = %+v, want %+v", memDev, tt.expectedMemDev)
			}
		})
	}
}

func TestClhCheckVersion(t *testing.T) {
	clh := &cloudHypervisor{}
	assert := assert.New(t)
	testcases := []struct {
		name    string
		version string
		pass    bool
	}{
		{
			name:    "minor lower than supported version",
			version: "0.20.0",
			pass:    false,
		},
		{
			name:    "equal to minimum supported version",
			version: "0.21.0",
			pass:    true,
		},
		{
			name:    "major exceeding supported version",
			version: "1.1.0",
			pass:    true,
		},
	}
	for _, tc := range testcases {
		clh.version = semver.MustParse(tc.version)
		err := clh.checkVersion()
		msg := fmt.Sprintf("test: %+v, clh.version: %v, result: %v", tc, clh.version, err)
		if tc.pass {
			assert.NoError(err, msg)
		} else {
			assert.Error(err, msg)
		}
	}
}

func TestCloudHypervisorHotplugAddBlockDevice(t *testing.T) {
	assert := assert.New(t)

	clhConfig, err := newClhConfig()
	assert.NoError(err)

	clh := &cloudHypervisor{}
	clh.config = clhConfig
	clh.APIClient = &clhClientMock{}

	clh.config.BlockDeviceDriver = config.VirtioBlock
	drive := &config.BlockDrive{Pmem: false, Index: 0}
	driveID, err := clh.hotplugAddBlockDevice(drive)
	assert.NoError(err, "Hotplug disk block device expected no error")
	assert.Equal(driveID, clhDriveIndexToID(0))
	assert.Equal(drive.PCIAddr, "0000:00:0a.0")

	_, err = clh.hotplugAddBlockDevice(&config.BlockDrive{Pmem: true})
	assert.Error(err, "Hotplug pmem block device expected error")

	clh.config.BlockDeviceDriver = config.VirtioSCSI
	_, err = clh.hotplugAddBlockDevice(&config.BlockDrive{Pmem: false})
	assert.Error(err, "Hotplug block device not using 'virtio-blk' expected error")
}

func TestCloudHypervisorHotplugAddNetDevice(t *testing.T) {
	assert := assert.New(t)

	clhConfig, err := newClhConfig()
	assert.NoError(err)

	clh := &cloudHypervisor{}
	clh.config = clhConfig
	clh.APIClient = &clhClientMock{}

	dev := &config.NetDev{ID: "eth0", TapName: "tap0_vs", MacAddress: "02:00:ca:fe:00:01"}
	backendID, err := clh.hotplugAddNetDevice(dev)
	assert.NoError(err, "Hotplug net device expected no error")
	assert.Equal(backendID, "_net0")
}

func TestCloudHypervisorHotplugRemoveDevice(t *testing.T) {
	assert := assert.New(t)

	clhConfig, err := newClhConfig()
	assert.NoError(err)

	clh := &cloudHypervisor{}
	clh.config = clhConfig
	clh.APIClient = &clhClientMock{}

	_, err = clh.HotplugRemoveDevice(context.Background(), &config.BlockDrive{}, BlockDev)
	assert.NoError(err, "Hotplug remove block device expected no error")

	_, err = clh.HotplugRemoveDevice(context.Background(), &config.NetDev{ID: "eth0"}, NetDev)
	assert.NoError(err, "Hotplug remove net device expected no error")

	_, err = clh.HotplugRemoveDevice(context.Background(), &config.VFIODev{}, VfioDev)
	assert.NoError(err, "Hotplug remove vfio device expected no error")

	_, err = clh.HotplugRemoveDevice(context.Background(), nil, CpuDev)
	assert.Error(err, "Hotplug remove unsupported device expected error")
}

func TestCloudHypervisorGenerateSocket(t *testing.T) {
	assert := assert.New(t)

	store, err := persist.GetDriver()
	assert.NoError(err)

	clh := &cloudHypervisor{store: store}

	s, err := clh.GenerateSocket("c")
	assert.NoError(err)
	assert.NotNil(s)

	hvsock, ok := s.(types.HybridVSock)
	assert.True(ok)

	expectedUdsPath := filepath.Join(store.RunVMStoragePath(), "c", clhSocket)
	assert.Equal(hvsock.UdsPath, expectedUdsPath)
	assert.NotZero(hvsock.Port)
}

func TestCloudHypervisorSaveLoadState(t *testing.T) {
	assert := assert.New(t)

	clh := &cloudHypervisor{
		id:         "blue-vm",
		netNSPath:  "/var/run/netns/blue",
		protection: tdxProtection,
		state: CloudHypervisorState{
			apiSocket:    "/run/clh-api.sock",
			PID:          42,
			VirtiofsdPID: 43,
		},
	}

	s := clh.Save()
	assert.Equal(s.Type, string(ClhHypervisor))
	assert.Equal(s.ID, "blue-vm")
	assert.Equal(s.Pid, 42)

	restored := &cloudHypervisor{}
	restored.Load(s)

	assert.Equal(restored.id, clh.id)
	assert.NotNil(restored.APIClient)
	assert.NotNil(restored.virtiofsd)
	assert.Equal(restored.state.PID, clh.state.PID)
	assert.Equal(restored.state.VirtiofsdPID, clh.state.VirtiofsdPID)
	assert.Equal(restored.state.apiSocket, clh.state.apiSocket)
	assert.Equal(restored.netNSPath, clh.netNSPath)
	assert.Equal(restored.protection, tdxProtection)
}

func TestCloudHypervisorCapabilities(t *testing.T) {
	assert := assert.New(t)

	clh := &cloudHypervisor{}
	caps := clh.Capabilities(context.Background())
	assert.True(caps.IsBlockDeviceHotplugSupported())
	assert.True(caps.IsNetDeviceHotplugSupported())
	assert.True(caps.IsFsSharingSupported())
}
