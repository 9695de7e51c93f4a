// Copyright (c) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKvmParameterEnabled(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	param := filepath.Join(dir, "sev")

	// missing parameter file means the capability is absent, not an error
	assert.False(kvmParameterEnabled(param))

	assert.NoError(os.WriteFile(param, []byte("N\n"), 0o600))
	assert.False(kvmParameterEnabled(param))

	assert.NoError(os.WriteFile(param, []byte("Y\n"), 0o600))
	assert.True(kvmParameterEnabled(param))

	assert.NoError(os.WriteFile(param, nil, 0o600))
	assert.False(kvmParameterEnabled(param))
}

func TestAvailableGuestProtectionPrecedence(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	origTdx, origSev, origSnp := tdxSysFirmwareDir, sevKvmParameterPath, snpKvmParameterPath
	defer func() {
		tdxSysFirmwareDir = origTdx
		sevKvmParameterPath = origSev
		snpKvmParameterPath = origSnp
	}()

	// Nothing advertised on the host.
	tdxSysFirmwareDir = filepath.Join(dir, "tdx_seam")
	sevKvmParameterPath = filepath.Join(dir, "sev")
	snpKvmParameterPath = filepath.Join(dir, "sev_snp")

	gp, err := availableGuestProtection()
	assert.NoError(err)
	assert.Equal(noneProtection, gp)

	// SEV alone.
	assert.NoError(os.WriteFile(sevKvmParameterPath, []byte("Y\n"), 0o600))
	gp, err = availableGuestProtection()
	assert.NoError(err)
	assert.Equal(sevProtection, gp)

	// SNP wins over SEV.
	assert.NoError(os.WriteFile(snpKvmParameterPath, []byte("Y\n"), 0o600))
	gp, err = availableGuestProtection()
	assert.NoError(err)
	assert.Equal(snpProtection, gp)
}

func TestCPUFlags(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	cpuinfo := filepath.Join(dir, "cpuinfo")
	assert.NoError(os.WriteFile(cpuinfo, []byte(`
cpuid level     : 20
wp              : yes
flags           : fpu vme msr sse2 vmx tdx hypervisor
bugs            :
`), 0o600))

	flags, err := CPUFlags(cpuinfo)
	assert.NoError(err)
	assert.True(flags["tdx"])
	assert.True(flags["vmx"])
	assert.False(flags["sev"])

	assert.NoError(os.WriteFile(cpuinfo, []byte("wp : yes\n"), 0o600))
	_, err = CPUFlags(cpuinfo)
	assert.Error(err)

	_, err = CPUFlags(filepath.Join(dir, "missing"))
	assert.Error(err)
}
