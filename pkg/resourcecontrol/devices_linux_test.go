// Copyright (c) 2020 Intel Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package resourcecontrol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceToCgroupDeviceRule(t *testing.T) {
	assert := assert.New(t)

	f := filepath.Join(t.TempDir(), "regular")
	assert.NoError(os.WriteFile(f, nil, 0o600))

	// fail: regular file is not a device
	dev, err := DeviceToCgroupDeviceRule(f)
	assert.Error(err)
	assert.Nil(dev)

	// fail: no such file
	dev, err = DeviceToCgroupDeviceRule(filepath.Join(t.TempDir(), "missing"))
	assert.Error(err)
	assert.Nil(dev)

	devPath := "/dev/null"
	if _, err := os.Stat(devPath); os.IsNotExist(err) {
		t.Skipf("no such device: %v", devPath)
		return
	}
	dev, err = DeviceToCgroupDeviceRule(devPath)
	assert.NoError(err)
	assert.NotNil(dev)
	assert.Equal(rune(dev.Type), 'c')
	assert.NotZero(dev.Major)
	assert.NotZero(dev.Minor)
	assert.NotEmpty(dev.Permissions)
	assert.True(dev.Allow)
}

func TestDeviceToLinuxDevice(t *testing.T) {
	assert := assert.New(t)

	devPath := "/dev/null"
	if _, err := os.Stat(devPath); os.IsNotExist(err) {
		t.Skipf("no such device: %v", devPath)
		return
	}
	dev, err := DeviceToLinuxDevice(devPath)
	assert.NoError(err)
	assert.Equal(dev.Type, "c")
	assert.NotNil(dev.Major)
	assert.NotZero(*dev.Major)
	assert.NotNil(dev.Minor)
	assert.NotZero(*dev.Minor)
	assert.NotEmpty(dev.Access)
	assert.True(dev.Allow)
}

func TestVMMDevices(t *testing.T) {
	assert := assert.New(t)

	devices := vmmDevices()

	// The wildcard mknod and pts/tun rules never depend on host
	// device nodes, so they are always present.
	wildcards := 0
	for _, d := range devices {
		if d.Major != nil && *d.Major == -1 {
			wildcards++
		}
	}
	assert.GreaterOrEqual(wildcards, 2)
}
