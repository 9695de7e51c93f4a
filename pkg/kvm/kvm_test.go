// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package kvm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestRequestEncoding(t *testing.T) {
	assert := assert.New(t)

	// Known-good numbers from the kernel UAPI header.
	assert.Equal(uintptr(0xAE00), kvmGetAPIVersion)
	assert.Equal(uintptr(0xAE01), kvmCreateVM)
	assert.Equal(uintptr(0xAE03), kvmCheckExtension)
	assert.Equal(uintptr(0xAE04), kvmGetVCPUMmapSize)
	assert.Equal(uintptr(0xAE41), kvmCreateVCPU)
	assert.Equal(uintptr(0x4020AE46), kvmSetUserMemoryRegion)
	assert.Equal(uintptr(0xAE60), kvmCreateIRQChip)
	assert.Equal(uintptr(0x4008AE61), kvmIRQLine)
	assert.Equal(uintptr(0xAE80), kvmRun)
}

func TestRunDataLayout(t *testing.T) {
	assert := assert.New(t)

	var r RunData
	assert.Equal(uintptr(288), unsafe.Sizeof(r))
	assert.Equal(uintptr(8), unsafe.Offsetof(r.ExitReason))
	assert.Equal(uintptr(16), unsafe.Offsetof(r.CR8))
	assert.Equal(uintptr(32), unsafe.Offsetof(r.Data))
}

func TestMemoryRegionLayout(t *testing.T) {
	assert := assert.New(t)

	var m UserspaceMemoryRegion
	assert.Equal(uintptr(32), unsafe.Sizeof(m))
	assert.Equal(uintptr(8), unsafe.Offsetof(m.GuestPhysAddr))
	assert.Equal(uintptr(24), unsafe.Offsetof(m.UserspaceAddr))
}

func TestRunDataIODecode(t *testing.T) {
	assert := assert.New(t)

	r := RunData{ExitReason: ExitIO}
	r.Data[0] = uint64(IODirectionOut) | 1<<8 | 0x3f8<<16 | 1<<32
	r.Data[1] = 0x1000

	direction, size, port, count, offset := r.IO()
	assert.Equal(uint32(IODirectionOut), direction)
	assert.Equal(uint32(1), size)
	assert.Equal(uint16(0x3f8), port)
	assert.Equal(uint32(1), count)
	assert.Equal(uint64(0x1000), offset)
}

func TestRunDataMMIODecode(t *testing.T) {
	assert := assert.New(t)

	r := RunData{ExitReason: ExitMMIO}
	r.Data[0] = 0xd0000000
	r.Data[1] = 0xdeadbeef
	r.Data[2] = 1<<32 | 4

	physAddr, data, size, isWrite := r.MMIO()
	assert.Equal(uint64(0xd0000000), physAddr)
	assert.Equal(uint32(4), size)
	assert.True(isWrite)
	assert.Equal(byte(0xef), data[0])
	assert.Equal(byte(0xde), data[3])

	// A read exit reports the same window with is_write clear, and
	// writes through the slice land in the mapped structure.
	r.Data[2] = 4
	_, data, _, isWrite = r.MMIO()
	assert.False(isWrite)
	data[0] = 0x42
	assert.Equal(uint64(0xdeadbe42), r.Data[1])
}
