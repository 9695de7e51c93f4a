// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var kvmRun = io(0x80)

// Exit reasons reported in RunData after Run returns.
const (
	ExitUnknown       = 0
	ExitIO            = 2
	ExitHLT           = 5
	ExitMMIO          = 6
	ExitShutdown      = 8
	ExitFailEntry     = 9
	ExitIntr          = 10
	ExitInternalError = 17
	ExitSystemEvent   = 24
)

// Directions of a port IO exit.
const (
	IODirectionIn  = 0
	IODirectionOut = 1
)

// RunData is the head of the shared run structure mapped from a vCPU
// descriptor. The exit union is kept as raw 64-bit words and decoded
// per exit reason, so only fields every architecture shares are named.
type RunData struct {
	RequestInterruptWindow     uint8
	ImmediateExit              uint8
	_                          [6]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	Flags                      uint16
	CR8                        uint64
	APICBase                   uint64
	Data                       [32]uint64
}

// IO decodes a port IO exit. Offset is the byte position of the
// transferred data window inside the run mapping; count is the number
// of back to back transfers the window holds.
func (r *RunData) IO() (direction, size uint32, port uint16, count uint32, offset uint64) {
	d := r.Data[0]
	direction = uint32(d & 0xff)
	size = uint32((d >> 8) & 0xff)
	port = uint16((d >> 16) & 0xffff)
	count = uint32(d >> 32)
	return direction, size, port, count, r.Data[1]
}

// MMIO decodes an MMIO exit. The returned slice aliases the mapped run
// structure, so for reads (isWrite false) the handler fills it with the
// value the guest will observe on resume.
func (r *RunData) MMIO() (physAddr uint64, data []byte, size uint32, isWrite bool) {
	physAddr = r.Data[0]
	data = (*[8]byte)(unsafe.Pointer(&r.Data[1]))[:]
	size = uint32(r.Data[2] & 0xffffffff)
	isWrite = (r.Data[2]>>32)&0xff != 0
	return physAddr, data, size, isWrite
}

// VCPU is one virtual processor. Run drives it and the mapped RunData
// carries exit information between the kernel and the caller.
type VCPU struct {
	id  int
	fd  int
	mem []byte
	run *RunData
}

// ID returns the processor index the vCPU was created with.
func (c *VCPU) ID() int {
	return c.id
}

// MmapRun maps the shared run structure. size comes from
// Device.VCPUMmapSize.
func (c *VCPU) MmapRun(size int) error {
	mem, err := unix.Mmap(c.fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	c.mem = mem
	c.run = (*RunData)(unsafe.Pointer(&mem[0]))
	return nil
}

// State returns the mapped run structure. Valid after MmapRun.
func (c *VCPU) State() *RunData {
	return c.run
}

// Mapping returns the raw run mapping, used to address the data window
// of port IO exits.
func (c *VCPU) Mapping() []byte {
	return c.mem
}

// Run enters guest mode and returns on the next exit. Callers must
// treat unix.EINTR as a spurious wakeup and retry: the Go runtime
// delivers preemption signals to every thread, and each one interrupts
// the guest entry.
func (c *VCPU) Run() error {
	_, err := ioctlVal(uintptr(c.fd), kvmRun, 0)
	return err
}

func (c *VCPU) Close() error {
	if c.mem != nil {
		if err := unix.Munmap(c.mem); err != nil {
			return err
		}
		c.mem = nil
		c.run = nil
	}
	return unix.Close(c.fd)
}
