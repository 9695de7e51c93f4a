// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

func TestGenerateVMSocket(t *testing.T) {
	assert := assert.New(t)

	s, err := generateVMSocket()
	if err != nil {
		t.Skipf("vhost-vsock is not usable on this host: %v", err)
	}

	vsock, ok := s.(types.VSock)
	assert.True(ok)
	assert.NotNil(vsock.VhostFd)
	assert.NotZero(vsock.ContextID)
	assert.Equal(uint32(vSockPort), vsock.Port)
	vsock.VhostFd.Close()
}

func TestHypervisorTypeSet(t *testing.T) {
	assert := assert.New(t)

	var hType HypervisorType
	for _, name := range []string{"firecracker", "clh", "kvm", "mock"} {
		assert.NoError(hType.Set(name))
		assert.Equal(name, hType.String())
	}

	assert.Error(hType.Set("qemu"))

	hType = HypervisorType("nonexistent")
	assert.Equal("", hType.String())
}

func TestNewHypervisorUnknownType(t *testing.T) {
	assert := assert.New(t)

	h, err := NewHypervisor(HypervisorType("nonexistent"))
	assert.Error(err)
	assert.Nil(h)
}

func TestHypervisorConfigValid(t *testing.T) {
	assert := assert.New(t)

	// missing kernel
	conf := &HypervisorConfig{ImagePath: testClhImagePath}
	assert.Error(conf.Valid())

	// image and initrd both unset
	conf = &HypervisorConfig{KernelPath: testClhKernelPath}
	assert.Error(conf.Valid())

	// image and initrd both set
	conf = &HypervisorConfig{
		KernelPath: testClhKernelPath,
		ImagePath:  testClhImagePath,
		InitrdPath: testFcInitrdPath,
	}
	assert.Error(conf.Valid())

	conf = &HypervisorConfig{
		KernelPath: testClhKernelPath,
		ImagePath:  testClhImagePath,
	}
	assert.NoError(conf.Valid())

	// defaults fill the unset knobs
	assert.Equal(uint32(defaultVCPUs), conf.NumVCPUs)
	assert.Equal(uint32(defaultMemSzMiB), conf.MemorySize)
	assert.Equal(defaultBlockDriver, conf.BlockDeviceDriver)
	assert.Equal(defaultEntropySource, conf.EntropySource)
	assert.Equal(uint(defaultVMStartTimeoutSecs), conf.VMStartTimeoutSecs)
	assert.NotZero(conf.DefaultMaxVCPUs)
}

func TestAddKernelParam(t *testing.T) {
	assert := assert.New(t)

	conf := &HypervisorConfig{}
	assert.Error(conf.AddKernelParam(Param{}))

	expected := []Param{
		{"foo", ""},
		{"console", "ttyS0"},
	}
	for _, p := range expected {
		assert.NoError(conf.AddKernelParam(p))
	}
	assert.Equal(expected, conf.KernelParams)
}

func TestSerializeParams(t *testing.T) {
	assert := assert.New(t)

	params := []Param{
		{"root", "/dev/vda1"},
		{"quiet", ""},
		{"", ""},
	}

	serialized := SerializeParams(params, "=")
	assert.Equal([]string{"root=/dev/vda1", "quiet"}, serialized)

	// no delimiter: key and value become separate words
	serialized = SerializeParams(params[:1], "")
	assert.Equal([]string{"root", "/dev/vda1"}, serialized)

	roundTrip := DeserializeParams([]string{"root=/dev/vda1", "quiet"})
	assert.Equal([]Param{{"root", "/dev/vda1"}, {"quiet", ""}}, roundTrip)
}

func TestGetHostMemorySizeKb(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	meminfo := filepath.Join(dir, "meminfo")
	assert.NoError(os.WriteFile(meminfo, []byte(`
MemTotal:      16384508 kB
MemFree:        2634120 kB
SwapTotal:      8388604 kB
`), 0o600))

	size, err := GetHostMemorySizeKb(meminfo)
	assert.NoError(err)
	assert.Equal(uint64(16384508), size)

	assert.NoError(os.WriteFile(meminfo, []byte("MemFree: 1024 kB\n"), 0o600))
	_, err = GetHostMemorySizeKb(meminfo)
	assert.Error(err)

	_, err = GetHostMemorySizeKb(filepath.Join(dir, "missing"))
	assert.Error(err)
}

func TestCheckCmdline(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	cmdline := filepath.Join(dir, "cmdline")
	assert.NoError(os.WriteFile(cmdline,
		[]byte("BOOT_IMAGE=/boot/vmlinuz root=/dev/vda1 prot_virt=1 quiet\n"), 0o600))

	found, err := CheckCmdline(cmdline, "prot_virt", []string{"1", "on"})
	assert.NoError(err)
	assert.True(found)

	// bare parameter matches against an empty value list
	found, err = CheckCmdline(cmdline, "quiet", nil)
	assert.NoError(err)
	assert.True(found)

	found, err = CheckCmdline(cmdline, "prot_virt", []string{"on"})
	assert.NoError(err)
	assert.False(found)

	_, err = CheckCmdline(filepath.Join(dir, "missing"), "quiet", nil)
	assert.Error(err)
}

func TestGetHypervisorSocketTemplate(t *testing.T) {
	assert := assert.New(t)

	conf := &HypervisorConfig{
		KernelPath: testClhKernelPath,
		ImagePath:  testClhImagePath,
	}

	template, err := GetHypervisorSocketTemplate(ClhHypervisor, conf)
	assert.NoError(err)
	assert.Contains(template, "{ID}")

	template, err = GetHypervisorSocketTemplate(MockHypervisor, conf)
	assert.NoError(err)
	assert.Empty(template)
}
