// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// x86 system requests. The sizes encode the kernel struct headers only,
// without their flexible arrays.
var (
	kvmGetMSRIndexList   = iowr(0x02, 4)
	kvmGetSupportedCPUID = iowr(0x05, 8)
)

// x86 VM requests.
var (
	kvmSetTSSAddr = io(0x47)
	kvmCreatePIT2 = iow(0x77, unsafe.Sizeof(PITConfig{}))
)

// x86 vCPU requests.
var (
	kvmGetRegs   = ior(0x81, unsafe.Sizeof(Regs{}))
	kvmSetRegs   = iow(0x82, unsafe.Sizeof(Regs{}))
	kvmGetSregs  = ior(0x83, unsafe.Sizeof(Sregs{}))
	kvmSetSregs  = iow(0x84, unsafe.Sizeof(Sregs{}))
	kvmSetMSRs   = iow(0x89, 8)
	kvmSetCPUID2 = iow(0x90, 8)
)

// maxCPUIDEntries and maxMSREntries bound the tables exchanged with the
// kernel. 256 covers both the largest CPUID table KVM may return and
// the MSR index list of current hosts.
const (
	maxCPUIDEntries = 256
	maxMSREntries   = 256
)

// Regs is the general purpose register file, in kernel declaration
// order.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RSP, RBP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFLAGS        uint64
}

// Segment is one segment register including its hidden descriptor
// state.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Typ      uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

// Descriptor is a descriptor table register.
type Descriptor struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

// Sregs is the special register file: segments, descriptor tables,
// control registers and the pending interrupt bitmap.
type Sregs struct {
	CS, DS, ES, FS, GS, SS  Segment
	TR, LDT                 Segment
	GDT, IDT                Descriptor
	CR0, CR2, CR3, CR4, CR8 uint64
	EFER                    uint64
	APICBase                uint64
	InterruptBitmap         [4]uint64
}

// CPUIDEntry is one leaf of the adjustable CPUID table.
type CPUIDEntry struct {
	Function uint32
	Index    uint32
	Flags    uint32
	EAX      uint32
	EBX      uint32
	ECX      uint32
	EDX      uint32
	_        [3]uint32
}

// CPUID is the table header plus a bounded entry array, standing in for
// the kernel's flexible array layout.
type CPUID struct {
	NEnt    uint32
	_       uint32
	Entries [maxCPUIDEntries]CPUIDEntry
}

// MSREntry is an index and value pair for one model specific register.
type MSREntry struct {
	Index uint32
	_     uint32
	Data  uint64
}

type msrs struct {
	NMSRs   uint32
	_       uint32
	Entries [maxMSREntries]MSREntry
}

type msrList struct {
	NMSRs   uint32
	Indices [maxMSREntries]uint32
}

// PITConfig configures the in-kernel interval timer.
type PITConfig struct {
	Flags uint32
	_     [15]uint32
}

// SupportedCPUID returns the CPUID table the host can emulate. It is
// read once per VM and replayed into every vCPU.
func (d *Device) SupportedCPUID() (*CPUID, error) {
	cpuid := &CPUID{NEnt: maxCPUIDEntries}
	if _, err := ioctl(d.f.Fd(), kvmGetSupportedCPUID, unsafe.Pointer(cpuid)); err != nil {
		return nil, err
	}
	return cpuid, nil
}

// MSRIndexList returns the model specific registers the host supports.
// Boot register writes are filtered against this list.
func (d *Device) MSRIndexList() ([]uint32, error) {
	list := msrList{NMSRs: maxMSREntries}
	if _, err := ioctl(d.f.Fd(), kvmGetMSRIndexList, unsafe.Pointer(&list)); err != nil {
		return nil, err
	}
	n := int(list.NMSRs)
	if n > len(list.Indices) {
		n = len(list.Indices)
	}
	return append([]uint32(nil), list.Indices[:n]...), nil
}

// SetTSSAddr reserves a three page region for the task state segment
// required by VMX. The region must lie outside guest RAM.
func (vm *VM) SetTSSAddr(addr uint32) error {
	_, err := ioctlVal(uintptr(vm.fd), kvmSetTSSAddr, uintptr(addr))
	return err
}

// CreatePIT2 instantiates the in-kernel interval timer. The in-kernel
// interrupt controller must exist first.
func (vm *VM) CreatePIT2() error {
	pit := PITConfig{}
	_, err := ioctl(uintptr(vm.fd), kvmCreatePIT2, unsafe.Pointer(&pit))
	return err
}

func (c *VCPU) GetRegs() (*Regs, error) {
	regs := &Regs{}
	if _, err := ioctl(uintptr(c.fd), kvmGetRegs, unsafe.Pointer(regs)); err != nil {
		return nil, err
	}
	return regs, nil
}

func (c *VCPU) SetRegs(regs *Regs) error {
	_, err := ioctl(uintptr(c.fd), kvmSetRegs, unsafe.Pointer(regs))
	return err
}

func (c *VCPU) GetSregs() (*Sregs, error) {
	sregs := &Sregs{}
	if _, err := ioctl(uintptr(c.fd), kvmGetSregs, unsafe.Pointer(sregs)); err != nil {
		return nil, err
	}
	return sregs, nil
}

func (c *VCPU) SetSregs(sregs *Sregs) error {
	_, err := ioctl(uintptr(c.fd), kvmSetSregs, unsafe.Pointer(sregs))
	return err
}

// SetMSRs writes a batch of model specific registers and returns how
// many the kernel accepted. The kernel stops at the first register it
// rejects.
func (c *VCPU) SetMSRs(entries []MSREntry) (int, error) {
	if len(entries) > maxMSREntries {
		return 0, unix.EINVAL
	}
	m := msrs{NMSRs: uint32(len(entries))}
	copy(m.Entries[:], entries)
	n, err := ioctl(uintptr(c.fd), kvmSetMSRs, unsafe.Pointer(&m))
	return int(n), err
}

// SetCPUID2 installs the CPUID table the guest will observe.
func (c *VCPU) SetCPUID2(cpuid *CPUID) error {
	_, err := ioctl(uintptr(c.fd), kvmSetCPUID2, unsafe.Pointer(cpuid))
	return err
}
