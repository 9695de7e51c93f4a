// Copyright (c) 2018-2021 Intel Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package hvconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"code.cloudfoundry.org/bytefmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/supervisor"
)

type testArtifacts struct {
	hypervisor string
	jailer     string
	kernel     string
	image      string
	initrd     string
	virtiofsd  string
}

func makeArtifacts(t *testing.T) testArtifacts {
	t.Helper()

	dir := t.TempDir()
	a := testArtifacts{
		hypervisor: filepath.Join(dir, "hypervisor"),
		jailer:     filepath.Join(dir, "jailer"),
		kernel:     filepath.Join(dir, "vmlinux"),
		image:      filepath.Join(dir, "rootfs.img"),
		initrd:     filepath.Join(dir, "initrd.img"),
		virtiofsd:  filepath.Join(dir, "virtiofsd"),
	}

	for _, f := range []string{a.hypervisor, a.jailer, a.kernel, a.image, a.initrd, a.virtiofsd} {
		require.NoError(t, os.WriteFile(f, []byte("#!/bin/true"), 0o700))
	}

	return a
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "configuration.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigurationClh(t *testing.T) {
	assert := assert.New(t)
	a := makeArtifacts(t)

	configPath := writeConfig(t, fmt.Sprintf(`
[hypervisor.clh]
path = "%s"
kernel = "%s"
image = "%s"
shared_fs = "virtio-fs"
virtio_fs_daemon = "%s"
kernel_params = "console=ttyS0 quiet"
default_vcpus = 1
default_memory = 512

[runtime]
enable_debug = true
enable_tracing = true
jaeger_endpoint = "http://localhost:14268/api/traces"
`, a.hypervisor, a.kernel, a.image, a.virtiofsd))

	resolved, rc, err := LoadConfiguration(configPath)
	assert.NoError(err)
	assert.Equal(configPath, resolved)

	assert.Equal(supervisor.ClhHypervisor, rc.HypervisorType)
	assert.True(rc.Debug)
	assert.True(rc.Trace)
	assert.Equal("http://localhost:14268/api/traces", rc.JaegerEndpoint)

	hc := rc.HypervisorConfig
	assert.Equal(a.hypervisor, hc.HypervisorPath)
	assert.Equal(a.kernel, hc.KernelPath)
	assert.Equal(a.image, hc.ImagePath)
	assert.Empty(hc.InitrdPath)
	assert.Equal(config.VirtioFS, hc.SharedFS)
	assert.Equal(a.virtiofsd, hc.VirtioFSDaemon)
	assert.Equal(uint32(1), hc.NumVCPUs)
	assert.Equal(uint32(512), hc.MemorySize)

	// kernel params survive the round trip
	params := supervisor.SerializeParams(hc.KernelParams, "=")
	assert.Contains(params, "console=ttyS0")
	assert.Contains(params, "quiet")

	// documented defaults fill the unset knobs
	assert.Equal(defaultMemSlots, hc.MemSlots)
	assert.Equal(defaultEntropySource, hc.EntropySource)
	assert.Equal(defaultBlockDeviceDriver, hc.BlockDeviceDriver)
	assert.Equal(defaultVirtioFSCacheMode, hc.VirtioFSCache)

	// Valid has already been applied by LoadConfiguration
	assert.NotZero(hc.VMStartTimeoutSecs)
	assert.NotZero(hc.DefaultMaxVCPUs)
}

func TestLoadConfigurationFirecrackerJailed(t *testing.T) {
	assert := assert.New(t)
	a := makeArtifacts(t)

	configPath := writeConfig(t, fmt.Sprintf(`
[hypervisor.firecracker]
path = "%s"
jailer_path = "%s"
kernel = "%s"
initrd = "%s"
rx_rate_limiter_max_rate = 10000000
tx_rate_limiter_max_rate = 10000000
`, a.hypervisor, a.jailer, a.kernel, a.initrd))

	_, rc, err := LoadConfiguration(configPath)
	assert.NoError(err)

	assert.Equal(supervisor.FirecrackerHypervisor, rc.HypervisorType)

	hc := rc.HypervisorConfig
	assert.Equal(a.jailer, hc.JailerPath)
	assert.True(hc.Jailed)
	assert.Equal(a.initrd, hc.InitrdPath)
	assert.Empty(hc.ImagePath)
	assert.Equal(uint64(10000000), hc.RxRateLimiterMaxRate)
	assert.Equal(uint64(10000000), hc.TxRateLimiterMaxRate)
}

func TestLoadConfigurationKvm(t *testing.T) {
	assert := assert.New(t)
	a := makeArtifacts(t)

	configPath := writeConfig(t, fmt.Sprintf(`
[hypervisor.kvm]
kernel = "%s"
image = "%s"
`, a.kernel, a.image))

	_, rc, err := LoadConfiguration(configPath)
	assert.NoError(err)
	assert.Equal(supervisor.KvmHypervisor, rc.HypervisorType)
	assert.Empty(rc.HypervisorConfig.HypervisorPath)
}

func TestLoadConfigurationMemorySizeString(t *testing.T) {
	assert := assert.New(t)
	a := makeArtifacts(t)

	configPath := writeConfig(t, fmt.Sprintf(`
[hypervisor.clh]
path = "%s"
kernel = "%s"
image = "%s"
default_memory_size = "2GiB"
`, a.hypervisor, a.kernel, a.image))

	_, rc, err := LoadConfiguration(configPath)
	assert.NoError(err)

	expected, err := bytefmt.ToBytes("2GiB")
	assert.NoError(err)
	assert.Equal(uint32(expected>>20), rc.HypervisorConfig.MemorySize)

	// the human readable form wins over the MiB count
	configPath = writeConfig(t, fmt.Sprintf(`
[hypervisor.clh]
path = "%s"
kernel = "%s"
image = "%s"
default_memory = 512
default_memory_size = "1GiB"
`, a.hypervisor, a.kernel, a.image))

	_, rc, err = LoadConfiguration(configPath)
	assert.NoError(err)
	assert.Equal(uint32(1024), rc.HypervisorConfig.MemorySize)

	for _, bad := range []string{"lots", "-1GiB", "64MiB"} {
		configPath = writeConfig(t, fmt.Sprintf(`
[hypervisor.clh]
path = "%s"
kernel = "%s"
image = "%s"
default_memory_size = "%s"
`, a.hypervisor, a.kernel, a.image, bad))

		_, _, err = LoadConfiguration(configPath)
		assert.Error(err, "default_memory_size %q", bad)
	}
}

func TestLoadConfigurationErrors(t *testing.T) {
	assert := assert.New(t)
	a := makeArtifacts(t)

	// image and initrd together are rejected
	configPath := writeConfig(t, fmt.Sprintf(`
[hypervisor.clh]
path = "%s"
kernel = "%s"
image = "%s"
initrd = "%s"
`, a.hypervisor, a.kernel, a.image, a.initrd))

	_, _, err := LoadConfiguration(configPath)
	assert.Error(err)

	// unknown hypervisor table
	configPath = writeConfig(t, fmt.Sprintf(`
[hypervisor.qemu]
path = "%s"
kernel = "%s"
image = "%s"
`, a.hypervisor, a.kernel, a.image))

	_, _, err = LoadConfiguration(configPath)
	assert.Error(err)

	// virtio-fs without a daemon path
	configPath = writeConfig(t, fmt.Sprintf(`
[hypervisor.clh]
path = "%s"
kernel = "%s"
image = "%s"
shared_fs = "virtio-fs"
`, a.hypervisor, a.kernel, a.image))

	_, _, err = LoadConfiguration(configPath)
	assert.Error(err)

	// missing config file
	_, _, err = LoadConfiguration(filepath.Join(t.TempDir(), "no-such.toml"))
	assert.Error(err)
}

func TestGetDefaultHypervisorConfig(t *testing.T) {
	assert := assert.New(t)

	hc := GetDefaultHypervisorConfig()
	assert.Equal(defaultClhPath, hc.HypervisorPath)
	assert.Equal(defaultKernelPath, hc.KernelPath)
	assert.Equal(defaultVCPUCount, hc.NumVCPUs)
	assert.Equal(defaultMemSize, hc.MemorySize)
	assert.Equal(defaultMemSlots, hc.MemSlots)
	assert.Equal(defaultEntropySource, hc.EntropySource)
}

func TestResolvePath(t *testing.T) {
	assert := assert.New(t)

	_, err := ResolvePath("")
	assert.Error(err)

	_, err = ResolvePath(filepath.Join(t.TempDir(), "missing"))
	assert.Error(err)

	dir := t.TempDir()
	target := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(target, nil, 0o600))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	resolved, err := ResolvePath(link)
	assert.NoError(err)
	assert.Equal(target, resolved)
}
