// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package types

const (
	blockDeviceSupport = 1 << iota
	blockDeviceHotplugSupport
	netDeviceHotplugSupport
	multiQueueSupport
	fsSharingSupport
	guestMemoryResizeSupport
)

// Capabilities describe a hypervisor backend's capabilities
// through a bit mask.
type Capabilities struct {
	flags uint
}

// IsBlockDeviceSupported tells if an hypervisor supports block devices.
func (caps *Capabilities) IsBlockDeviceSupported() bool {
	return caps.flags&blockDeviceSupport != 0
}

// SetBlockDeviceSupport sets the block device support capability to true.
func (caps *Capabilities) SetBlockDeviceSupport() {
	caps.flags |= blockDeviceSupport
}

// IsBlockDeviceHotplugSupported tells if an hypervisor supports hotplugging block devices.
func (caps *Capabilities) IsBlockDeviceHotplugSupported() bool {
	return caps.flags&blockDeviceHotplugSupport != 0
}

// SetBlockDeviceHotplugSupport sets the block device hotplug capability to true.
func (caps *Capabilities) SetBlockDeviceHotplugSupport() {
	caps.flags |= blockDeviceHotplugSupport
}

// IsNetDeviceHotplugSupported tells if an hypervisor supports hotplugging network devices.
func (caps *Capabilities) IsNetDeviceHotplugSupported() bool {
	return caps.flags&netDeviceHotplugSupport != 0
}

// SetNetDeviceHotplugSupport sets the network device hotplug capability to true.
func (caps *Capabilities) SetNetDeviceHotplugSupport() {
	caps.flags |= netDeviceHotplugSupport
}

// IsMultiQueueSupported tells if an hypervisor supports device multi queue support.
func (caps *Capabilities) IsMultiQueueSupported() bool {
	return caps.flags&multiQueueSupport != 0
}

// SetMultiQueueSupport sets the multi queue capability to true.
func (caps *Capabilities) SetMultiQueueSupport() {
	caps.flags |= multiQueueSupport
}

// IsFsSharingSupported tells if an hypervisor supports host filesystem sharing.
func (caps *Capabilities) IsFsSharingSupported() bool {
	return caps.flags&fsSharingSupport != 0
}

// SetFsSharingSupport sets the host filesystem sharing capability to true.
func (caps *Capabilities) SetFsSharingSupport() {
	caps.flags |= fsSharingSupport
}

// IsGuestMemoryResizeSupported tells if an hypervisor can grow or shrink
// guest memory after boot.
func (caps *Capabilities) IsGuestMemoryResizeSupported() bool {
	return caps.flags&guestMemoryResizeSupport != 0
}

// SetGuestMemoryResizeSupport sets the guest memory resize capability to true.
func (caps *Capabilities) SetGuestMemoryResizeSupport() {
	caps.flags |= guestMemoryResizeSupport
}
