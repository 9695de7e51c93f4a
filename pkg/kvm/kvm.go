// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

// Package kvm is a typed binding to the kernel virtualization API,
// covering the slice of it the in-process backend drives: the system,
// VM and vCPU file descriptors, capability negotiation, guest memory
// slots and the architecture-specific register setup the boot protocol
// needs. Anything KVM offers beyond that is out of scope here.
package kvm

import (
	"os"

	"golang.org/x/sys/unix"
)

// ExpectedAPIVersion is the stable KVM API identifier. The kernel has
// reported 12 since 2.6.22 and documents that it will not change.
const ExpectedAPIVersion = 12

const devKVM = "/dev/kvm"

// System requests.
var (
	kvmGetAPIVersion   = io(0x00)
	kvmCreateVM        = io(0x01)
	kvmCheckExtension  = io(0x03)
	kvmGetVCPUMmapSize = io(0x04)
)

// Capabilities queried through CheckExtension. Values are the kernel's
// KVM_CAP_* numbers.
const (
	CapIRQChip       = 0
	CapUserMemory    = 3
	CapNrVCPUs       = 9  // recommended vCPU ceiling
	CapNrMemslots    = 10 // guest memory slot count
	CapMaxVCPUs      = 66 // hard vCPU ceiling
	CapOneReg        = 70
	CapARMPSCI02     = 102
	CapImmediateExit = 136
)

// Device is an open handle on the virtualization system device.
type Device struct {
	f *os.File
}

// Open opens the system device. The caller keeps the handle for
// capability queries and VM creation and closes it when done with all
// VMs created from it.
func Open() (*Device, error) {
	f, err := os.OpenFile(devKVM, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Device{f: f}, nil
}

func (d *Device) Close() error {
	return d.f.Close()
}

// APIVersion returns the kernel's virtualization API version. A value
// other than ExpectedAPIVersion means the ABI cannot be trusted and no
// further requests may be issued.
func (d *Device) APIVersion() (int, error) {
	v, err := ioctlVal(d.f.Fd(), kvmGetAPIVersion, 0)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// CheckExtension reports one capability value. Zero means the
// capability is absent; positive values are capability specific,
// typically a limit.
func (d *Device) CheckExtension(capability uintptr) (int, error) {
	v, err := ioctlVal(d.f.Fd(), kvmCheckExtension, capability)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// VCPUMmapSize returns the size of the shared run structure mapping
// each vCPU descriptor exposes. It is at least one page.
func (d *Device) VCPUMmapSize() (int, error) {
	v, err := ioctlVal(d.f.Fd(), kvmGetVCPUMmapSize, 0)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// CreateVM creates a new virtual machine with no memory and no vCPUs.
func (d *Device) CreateVM() (*VM, error) {
	fd, err := ioctlVal(d.f.Fd(), kvmCreateVM, 0)
	if err != nil {
		return nil, err
	}
	return &VM{fd: int(fd)}, nil
}
