// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package kvm

import (
	"runtime"
	"unsafe"
)

// arm64 VM and vCPU requests.
var (
	kvmARMSetDeviceAddr   = iow(0x8b, unsafe.Sizeof(armDeviceAddr{}))
	kvmGetOneReg          = iow(0xab, unsafe.Sizeof(oneReg{}))
	kvmSetOneReg          = iow(0xac, unsafe.Sizeof(oneReg{}))
	kvmARMVCPUInit        = iow(0xae, unsafe.Sizeof(VCPUInit{}))
	kvmARMPreferredTarget = ior(0xaf, unsafe.Sizeof(VCPUInit{}))
)

// VCPUInit selects the emulated processor target and its feature bits.
type VCPUInit struct {
	Target   uint32
	Features [7]uint32
}

// Feature bit numbers accepted in VCPUInit.Features[0].
const (
	// FeaturePowerOff starts the vCPU parked. The guest brings it
	// online later through the PSCI CPU_ON call.
	FeaturePowerOff = 0

	// FeaturePSCI02 exposes the PSCI 0.2 interface to the guest.
	FeaturePSCI02 = 2
)

type oneReg struct {
	ID   uint64
	Addr uint64
}

type armDeviceAddr struct {
	ID   uint64
	Addr uint64
}

// Identifiers for SetDeviceAddr. The device id occupies bits 31:16 of
// the id word and the address subtype bits 15:0.
const (
	DeviceVGICV2 = 0

	VGICV2AddrTypeDist = 0
	VGICV2AddrTypeCPU  = 1
)

// DeviceAddrID builds the id word for SetDeviceAddr.
func DeviceAddrID(device, addrType uint64) uint64 {
	return device<<16 | addrType
}

// One-reg id construction. Core registers are addressed by their 32-bit
// word offset into the kernel's user_pt_regs layout.
const (
	regARM64     = 0x6000000000000000
	regSizeU64   = 0x0030000000000000
	regARM64Core = 0x00100000
)

// CoreReg returns the one-reg id of the 64-bit core register at the
// given byte offset inside user_pt_regs.
func CoreReg(byteOffset uint64) uint64 {
	return regARM64 | regSizeU64 | regARM64Core | byteOffset/4
}

// Byte offsets of the user_pt_regs fields the boot protocol sets.
const (
	CoreRegX0     = 0
	CoreRegSP     = 31 * 8
	CoreRegPC     = 32 * 8
	CoreRegPstate = 33 * 8
)

// PreferredTarget asks the host for the vCPU target matching the
// physical CPU. The result seeds every VCPUInit issued for the VM.
func (vm *VM) PreferredTarget() (VCPUInit, error) {
	var init VCPUInit
	_, err := ioctl(uintptr(vm.fd), kvmARMPreferredTarget, unsafe.Pointer(&init))
	return init, err
}

// SetDeviceAddr places one in-kernel device region in guest physical
// address space, e.g. the virtual GIC distributor and CPU interface.
func (vm *VM) SetDeviceAddr(id, addr uint64) error {
	a := armDeviceAddr{ID: id, Addr: addr}
	_, err := ioctl(uintptr(vm.fd), kvmARMSetDeviceAddr, unsafe.Pointer(&a))
	return err
}

// Init initializes the vCPU for the given target and features. It must
// run before any register access on the vCPU.
func (c *VCPU) Init(init *VCPUInit) error {
	_, err := ioctl(uintptr(c.fd), kvmARMVCPUInit, unsafe.Pointer(init))
	return err
}

// SetOneReg writes one register through the one-reg interface.
func (c *VCPU) SetOneReg(id, value uint64) error {
	reg := oneReg{ID: id, Addr: uint64(uintptr(unsafe.Pointer(&value)))}
	_, err := ioctl(uintptr(c.fd), kvmSetOneReg, unsafe.Pointer(&reg))
	runtime.KeepAlive(&value)
	return err
}

// GetOneReg reads one register through the one-reg interface.
func (c *VCPU) GetOneReg(id uint64) (uint64, error) {
	var value uint64
	reg := oneReg{ID: id, Addr: uint64(uintptr(unsafe.Pointer(&value)))}
	_, err := ioctl(uintptr(c.fd), kvmGetOneReg, unsafe.Pointer(&reg))
	runtime.KeepAlive(&value)
	return value, err
}
