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

func TestArm64RequestEncoding(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uintptr(0x4010AE8B), kvmARMSetDeviceAddr)
	assert.Equal(uintptr(0x4010AEAB), kvmGetOneReg)
	assert.Equal(uintptr(0x4010AEAC), kvmSetOneReg)
	assert.Equal(uintptr(0x4020AEAE), kvmARMVCPUInit)
	assert.Equal(uintptr(0x8020AEAF), kvmARMPreferredTarget)

	assert.Equal(uintptr(32), unsafe.Sizeof(VCPUInit{}))
}

func TestCoreRegIDs(t *testing.T) {
	assert := assert.New(t)

	// pc sits 32 doublewords into user_pt_regs, pstate right after.
	assert.Equal(uint64(0x6030000000100040), CoreReg(CoreRegPC))
	assert.Equal(uint64(0x6030000000100042), CoreReg(CoreRegPstate))
	assert.Equal(uint64(0x6030000000100000), CoreReg(CoreRegX0))
	assert.Equal(uint64(0x603000000010003e), CoreReg(CoreRegSP))
}

func TestDeviceAddrID(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint64(0), DeviceAddrID(DeviceVGICV2, VGICV2AddrTypeDist))
	assert.Equal(uint64(1), DeviceAddrID(DeviceVGICV2, VGICV2AddrTypeCPU))
	assert.Equal(uint64(0x10002), DeviceAddrID(1, 2))
}
