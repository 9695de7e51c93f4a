// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

//go:build !amd64 && !arm64

package supervisor

import (
	"github.com/pkg/errors"

	"github.com/confidential-containers/virtsupervisor/pkg/kvm"
)

const (
	kvmRAMBase       = 0
	kvmMMIOBase      = 0
	kvmMMIOSlotSize  = 0
	kvmMMIOSlotCount = 0
	kvmMMIOFirstIRQ  = 0
)

type kvmArchCaps struct{}

var errKvmUnsupportedArch = errors.New("the kvm backend supports only amd64 and arm64 hosts")

func (k *kvmHypervisor) archValidateMemory(sizeMB uint32) error {
	return errKvmUnsupportedArch
}

func (k *kvmHypervisor) archSetupVM() error {
	return errKvmUnsupportedArch
}

func (k *kvmHypervisor) archLoadKernel() error {
	return errKvmUnsupportedArch
}

func (k *kvmHypervisor) archInitVCPU(cpu *kvm.VCPU) error {
	return errKvmUnsupportedArch
}

func (k *kvmHypervisor) archHandlePIO(cpu *kvm.VCPU) {
}
