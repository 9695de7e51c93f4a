// Copyright (c) 2019 Huawei Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package persistapi

import (
	hv "github.com/confidential-containers/virtsupervisor/pkg/hypervisors"
)

// DeviceState saves the identity of one attached device. The slice order
// in VMState matches attachment order, which is also queue order.
type DeviceState struct {
	// ID is the name the caller used when queueing the device.
	ID string

	// BackendID is the identifier the hypervisor backend assigned on
	// attach, e.g. a PCI BDF or a virtio drive name.
	BackendID string

	// Type is the device class, one of "block", "net", "vfio", "vsock".
	Type string
}

// VMState contains everything needed to rebuild controller and backend
// bookkeeping for one VM after a restart of the managing process.
type VMState struct {
	// PersistVersion of the VM state encoding.
	// It should be handled before anything else to keep backward compatibility.
	PersistVersion uint

	// ID is the VM id
	ID string

	// State is the lifecycle state name, e.g. "running"
	State string

	// GuestMemoryBlockSizeMB is the size of memory block of guestos
	GuestMemoryBlockSizeMB uint32

	// GuestMemoryHotplugProbe determines whether guest kernel supports memory hotplug probe interface
	GuestMemoryHotplugProbe bool

	// CgroupPath is the cgroup hierarchy where the VMM process is placed.
	CgroupPath string

	// Devices lists the attached devices in attachment order.
	Devices []DeviceState

	// HypervisorState holds the backend runtime state.
	HypervisorState hv.HypervisorState

	// Config is the hypervisor configuration the VM was created with.
	Config HypervisorConfig
}
