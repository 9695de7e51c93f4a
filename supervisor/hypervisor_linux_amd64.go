// Copyright (c) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import "os"

const tdxCPUFlag = "tdx"

// Defined as variables instead of consts to allow overriding
// them in the tests.

var tdxSysFirmwareDir = "/sys/firmware/tdx_seam/"

var sevKvmParameterPath = "/sys/module/kvm_amd/parameters/sev"

var snpKvmParameterPath = "/sys/module/kvm_amd/parameters/sev_snp"

// kvmParameterEnabled reports whether a KVM module boolean parameter is
// set. A missing parameter file only means the module does not offer the
// capability, so it is not an error.
func kvmParameterEnabled(parameterPath string) bool {
	if _, err := os.Stat(parameterPath); err != nil {
		return false
	}

	c, err := os.ReadFile(parameterPath)

	return err == nil && len(c) > 0 && c[0] == 'Y'
}

// Implementation of this function is architecture specific
func availableGuestProtection() (guestProtection, error) {
	flags, err := CPUFlags(procCPUInfo)
	if err != nil {
		return noneProtection, err
	}

	// TDX is supported and properly loaded when the firmware directory exists and `tdx` is part of the CPU flags
	if d, err := os.Stat(tdxSysFirmwareDir); err == nil && d.IsDir() && flags[tdxCPUFlag] {
		return tdxProtection, nil
	}

	// SEV-SNP takes precedence over SEV
	if kvmParameterEnabled(snpKvmParameterPath) {
		return snpProtection, nil
	}

	if kvmParameterEnabled(sevKvmParameterPath) {
		return sevProtection, nil
	}

	return noneProtection, nil
}
