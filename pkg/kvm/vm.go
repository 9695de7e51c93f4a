// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// VM requests.
var (
	kvmCreateVCPU          = io(0x41)
	kvmSetUserMemoryRegion = iow(0x46, unsafe.Sizeof(UserspaceMemoryRegion{}))
	kvmCreateIRQChip       = io(0x60)
	kvmIRQLine             = iow(0x61, unsafe.Sizeof(IRQLevel{}))
)

// UserspaceMemoryRegion maps a range of process memory into guest
// physical address space. Setting MemorySize to zero deletes the slot.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// IRQLevel carries one line state change for the in-kernel interrupt
// controller.
type IRQLevel struct {
	IRQ   uint32
	Level uint32
}

// VM is one virtual machine instance.
type VM struct {
	fd int
}

// SetUserMemoryRegion installs or replaces one guest memory slot. The
// backing mapping must outlive the slot.
func (vm *VM) SetUserMemoryRegion(region *UserspaceMemoryRegion) error {
	_, err := ioctl(uintptr(vm.fd), kvmSetUserMemoryRegion, unsafe.Pointer(region))
	return err
}

// CreateIRQChip instantiates the in-kernel interrupt controller: the
// dual PIC plus IOAPIC on x86, the virtual GIC on arm64. On arm64 the
// GIC regions still need placing through SetDeviceAddr before any vCPU
// runs.
func (vm *VM) CreateIRQChip() error {
	_, err := ioctlVal(uintptr(vm.fd), kvmCreateIRQChip, 0)
	return err
}

// IRQLine sets the level of one interrupt line on the in-kernel
// interrupt controller.
func (vm *VM) IRQLine(irq, level uint32) error {
	l := IRQLevel{IRQ: irq, Level: level}
	_, err := ioctl(uintptr(vm.fd), kvmIRQLine, unsafe.Pointer(&l))
	return err
}

// CreateVCPU adds the virtual processor with the given index to the
// VM. Indexes must be dense and start at zero.
func (vm *VM) CreateVCPU(id int) (*VCPU, error) {
	fd, err := ioctlVal(uintptr(vm.fd), kvmCreateVCPU, uintptr(id))
	if err != nil {
		return nil, err
	}
	return &VCPU{id: id, fd: int(fd)}, nil
}

func (vm *VM) Close() error {
	return unix.Close(vm.fd)
}
