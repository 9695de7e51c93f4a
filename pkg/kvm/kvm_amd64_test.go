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

func TestAmd64RequestEncoding(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uintptr(0xC004AE02), kvmGetMSRIndexList)
	assert.Equal(uintptr(0xC008AE05), kvmGetSupportedCPUID)
	assert.Equal(uintptr(0xAE47), kvmSetTSSAddr)
	assert.Equal(uintptr(0x4040AE77), kvmCreatePIT2)
	assert.Equal(uintptr(0x8090AE81), kvmGetRegs)
	assert.Equal(uintptr(0x4090AE82), kvmSetRegs)
	assert.Equal(uintptr(0x8138AE83), kvmGetSregs)
	assert.Equal(uintptr(0x4138AE84), kvmSetSregs)
	assert.Equal(uintptr(0x4008AE89), kvmSetMSRs)
	assert.Equal(uintptr(0x4008AE90), kvmSetCPUID2)
}

func TestAmd64StructLayout(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uintptr(144), unsafe.Sizeof(Regs{}))
	assert.Equal(uintptr(24), unsafe.Sizeof(Segment{}))
	assert.Equal(uintptr(16), unsafe.Sizeof(Descriptor{}))
	assert.Equal(uintptr(312), unsafe.Sizeof(Sregs{}))
	assert.Equal(uintptr(40), unsafe.Sizeof(CPUIDEntry{}))
	assert.Equal(uintptr(16), unsafe.Sizeof(MSREntry{}))
	assert.Equal(uintptr(64), unsafe.Sizeof(PITConfig{}))

	var s Sregs
	assert.Equal(uintptr(192), unsafe.Offsetof(s.GDT))
	assert.Equal(uintptr(224), unsafe.Offsetof(s.CR0))
	assert.Equal(uintptr(264), unsafe.Offsetof(s.EFER))
	assert.Equal(uintptr(280), unsafe.Offsetof(s.InterruptBitmap))
}
