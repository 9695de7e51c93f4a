// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"
	"os"
	"sync"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	hv "github.com/confidential-containers/virtsupervisor/pkg/hypervisors"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

var MockHybridVSockPath = "/tmp/virtsupervisor-mock-hybrid-vsock.socket"

type mockHypervisor struct {
	config   HypervisorConfig
	mockPid  int
	exitCh   chan struct{}
	exitOnce sync.Once
}

func (m *mockHypervisor) Capabilities(ctx context.Context) types.Capabilities {
	caps := types.Capabilities{}
	caps.SetBlockDeviceHotplugSupport()
	caps.SetNetDeviceHotplugSupport()
	return caps
}

func (m *mockHypervisor) HypervisorConfig() HypervisorConfig {
	return m.config
}

func (m *mockHypervisor) setConfig(config *HypervisorConfig) error {
	if err := config.Valid(); err != nil {
		return err
	}

	m.config = *config
	return nil
}

func (m *mockHypervisor) CreateVM(ctx context.Context, id string, network NetworkNamespace, hypervisorConfig *HypervisorConfig) error {
	m.exitCh = make(chan struct{})
	return m.setConfig(hypervisorConfig)
}

func (m *mockHypervisor) StartVM(ctx context.Context, timeout int) error {
	m.mockPid = os.Getpid()
	return nil
}

func (m *mockHypervisor) StopVM(ctx context.Context, waitOnly bool) error {
	m.exitOnce.Do(func() {
		if m.exitCh != nil {
			close(m.exitCh)
		}
	})
	return nil
}

func (m *mockHypervisor) watchExit() <-chan struct{} {
	return m.exitCh
}

func (m *mockHypervisor) AddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error {
	return nil
}

func (m *mockHypervisor) HotplugAddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	switch devType {
	case CpuDev:
		return devInfo.(uint32), nil
	case MemoryDev:
		memdev := devInfo.(*MemoryDevice)
		return memdev.SizeMB, nil
	case BlockDev:
		return "mock_" + devInfo.(*config.BlockDrive).ID, nil
	case NetDev:
		return "mock_" + devInfo.(*config.NetDev).ID, nil
	}
	return nil, nil
}

func (m *mockHypervisor) HotplugRemoveDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	switch devType {
	case CpuDev:
		return devInfo.(uint32), nil
	case MemoryDev:
		return 0, nil
	}
	return nil, nil
}

func (m *mockHypervisor) GetVMConsole(ctx context.Context, id string) (string, string, error) {
	return "", "", nil
}

func (m *mockHypervisor) ResizeMemory(ctx context.Context, memMB uint32, memorySectionSizeMB uint32, probe bool) (uint32, MemoryDevice, error) {
	return 0, MemoryDevice{}, nil
}

func (m *mockHypervisor) ResizeVCPUs(ctx context.Context, cpus uint32) (uint32, uint32, error) {
	return 0, 0, nil
}

func (m *mockHypervisor) Disconnect(ctx context.Context) {
}

func (m *mockHypervisor) GetThreadIDs(ctx context.Context) (VcpuThreadIDs, error) {
	vcpus := map[int]int{0: os.Getpid()}
	return VcpuThreadIDs{vcpus}, nil
}

func (m *mockHypervisor) Cleanup(ctx context.Context) error {
	return nil
}

func (m *mockHypervisor) GetPids() []int {
	return []int{m.mockPid}
}

func (m *mockHypervisor) GetVirtioFsPid() *int {
	return nil
}

func (m *mockHypervisor) Save() (s hv.HypervisorState) {
	s.Type = string(MockHypervisor)
	s.Pid = m.mockPid
	return
}

func (m *mockHypervisor) Load(s hv.HypervisorState) {
	m.mockPid = s.Pid
}

func (m *mockHypervisor) Check() error {
	return nil
}

func (m *mockHypervisor) GenerateSocket(id string) (interface{}, error) {
	return types.MockHybridVSock{
		UdsPath: MockHybridVSockPath,
	}, nil
}

func (m *mockHypervisor) IsRateLimiterBuiltin() bool {
	return false
}
