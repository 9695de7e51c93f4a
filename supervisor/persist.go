// Copyright (c) 2019 Huawei Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	persistapi "github.com/confidential-containers/virtsupervisor/supervisor/persist/api"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

// dumpLocked assembles the persisted record from live controller
// state. Callers hold lc.mu.
func (lc *LifecycleController) dumpLocked() persistapi.VMState {
	state := persistapi.VMState{
		PersistVersion:          persistapi.CurrentPersistVersion,
		ID:                      lc.id,
		State:                   string(lc.persistedStateLocked()),
		GuestMemoryBlockSizeMB:  lc.memoryBlockSizeMB,
		GuestMemoryHotplugProbe: lc.memoryHotplugProbe,
		CgroupPath:              lc.cgroupPath,
	}

	lc.dumpDevices(&state)
	lc.dumpHypervisor(&state)
	lc.dumpConfig(&state)

	return state
}

// persistedStateLocked is the lifecycle state the record carries. A
// freshly restored controller sits in NotReady only for the handoff
// while the guest itself still runs, so the record keeps the
// pre-restore state until the controller moves on its own.
func (lc *LifecycleController) persistedStateLocked() types.VmmState {
	if lc.restored && lc.state == types.StateNotReady {
		return lc.restoredState
	}
	return lc.state
}

func (lc *LifecycleController) dumpDevices(state *persistapi.VMState) {
	for _, id := range lc.devices.order {
		entry := lc.devices.entries[id]
		state.Devices = append(state.Devices, persistapi.DeviceState{
			ID:        id,
			BackendID: entry.backendID,
			Type:      devTypeName(entry.devType),
		})
	}
}

// dumpHypervisor records the backend runtime state. The backend type
// and the negotiated protection are owned by the controller, so they
// overwrite whatever the driver reported.
func (lc *LifecycleController) dumpHypervisor(state *persistapi.VMState) {
	state.HypervisorState = lc.hypervisor.Save()
	state.HypervisorState.Type = string(lc.hypervisorType)
	state.HypervisorState.GuestProtection = lc.protection.String()
}

func (lc *LifecycleController) dumpConfig(state *persistapi.VMState) {
	sconfig := lc.config
	state.Config = persistapi.HypervisorConfig{
		NumVCPUs:           sconfig.NumVCPUs,
		DefaultMaxVCPUs:    sconfig.DefaultMaxVCPUs,
		MemorySize:         sconfig.MemorySize,
		MemSlots:           sconfig.MemSlots,
		VirtioFSCacheSize:  sconfig.VirtioFSCacheSize,
		KernelPath:         sconfig.KernelPath,
		ImagePath:          sconfig.ImagePath,
		InitrdPath:         sconfig.InitrdPath,
		FirmwarePath:       sconfig.FirmwarePath,
		HypervisorPath:     sconfig.HypervisorPath,
		JailerPath:         sconfig.JailerPath,
		BlockDeviceDriver:  sconfig.BlockDeviceDriver,
		EntropySource:      sconfig.EntropySource,
		SharedFS:           sconfig.SharedFS,
		VirtioFSDaemon:     sconfig.VirtioFSDaemon,
		VirtioFSCache:      sconfig.VirtioFSCache,
		VMStorePath:        sconfig.VMStorePath,
		RunStorePath:       sconfig.RunStorePath,
		Debug:              sconfig.Debug,
		ConfidentialGuest:  sconfig.ConfidentialGuest,
		Jailed:             sconfig.Jailed,
		DisableSeccomp:     sconfig.DisableSeccomp,
		VMStartTimeoutSecs: sconfig.VMStartTimeoutSecs,
	}

	for _, param := range sconfig.KernelParams {
		state.Config.KernelParams = append(state.Config.KernelParams, persistapi.Param{
			Key:   param.Key,
			Value: param.Value,
		})
	}
	for _, param := range sconfig.HypervisorParams {
		state.Config.HypervisorParams = append(state.Config.HypervisorParams, persistapi.Param{
			Key:   param.Key,
			Value: param.Value,
		})
	}
}

// loadHypervisorConfig rebuilds the runtime configuration from its
// persisted mirror. Fields the mirror does not carry keep their zero
// value; they only shape process launch and the process is already
// running when a record is loaded.
func loadHypervisorConfig(pconfig persistapi.HypervisorConfig) HypervisorConfig {
	sconfig := HypervisorConfig{
		NumVCPUs:           pconfig.NumVCPUs,
		DefaultMaxVCPUs:    pconfig.DefaultMaxVCPUs,
		MemorySize:         pconfig.MemorySize,
		MemSlots:           pconfig.MemSlots,
		VirtioFSCacheSize:  pconfig.VirtioFSCacheSize,
		KernelPath:         pconfig.KernelPath,
		ImagePath:          pconfig.ImagePath,
		InitrdPath:         pconfig.InitrdPath,
		FirmwarePath:       pconfig.FirmwarePath,
		HypervisorPath:     pconfig.HypervisorPath,
		JailerPath:         pconfig.JailerPath,
		BlockDeviceDriver:  pconfig.BlockDeviceDriver,
		EntropySource:      pconfig.EntropySource,
		SharedFS:           pconfig.SharedFS,
		VirtioFSDaemon:     pconfig.VirtioFSDaemon,
		VirtioFSCache:      pconfig.VirtioFSCache,
		VMStorePath:        pconfig.VMStorePath,
		RunStorePath:       pconfig.RunStorePath,
		Debug:              pconfig.Debug,
		ConfidentialGuest:  pconfig.ConfidentialGuest,
		Jailed:             pconfig.Jailed,
		DisableSeccomp:     pconfig.DisableSeccomp,
		VMStartTimeoutSecs: pconfig.VMStartTimeoutSecs,
	}

	for _, param := range pconfig.KernelParams {
		sconfig.KernelParams = append(sconfig.KernelParams, Param{
			Key:   param.Key,
			Value: param.Value,
		})
	}
	for _, param := range pconfig.HypervisorParams {
		sconfig.HypervisorParams = append(sconfig.HypervisorParams, Param{
			Key:   param.Key,
			Value: param.Value,
		})
	}

	return sconfig
}

// loadDeviceIDMap rebuilds the attach-order id map from persisted
// device entries. The typed device configurations are not persisted,
// only the ids survive a handoff.
func loadDeviceIDMap(devices []persistapi.DeviceState) *DeviceIDMap {
	m := newDeviceIDMap()
	for _, dev := range devices {
		m.add(dev.ID, dev.BackendID, devTypeFromName(dev.Type), nil)
	}
	return m
}

// devTypeName flattens a device type tag into its persisted name.
func devTypeName(devType DeviceType) string {
	switch devType {
	case BlockDev:
		return "block"
	case NetDev:
		return "net"
	case VSockPCIDev, HybridVirtioVsockDev:
		return "vsock"
	case VfioDev:
		return "vfio"
	case FsDev:
		return "fs"
	}
	return "unknown"
}

// devTypeFromName is the inverse of devTypeName. Unknown names map to
// ImgDev, which no hotplug path accepts, so a record written by a
// newer version stays loadable and only the odd device is inert.
func devTypeFromName(name string) DeviceType {
	switch name {
	case "block":
		return BlockDev
	case "net":
		return NetDev
	case "vsock":
		return VSockPCIDev
	case "vfio":
		return VfioDev
	case "fs":
		return FsDev
	}
	return ImgDev
}
