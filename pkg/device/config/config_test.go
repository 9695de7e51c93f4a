// Copyright (c) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSysDevPathImpl(t *testing.T) {
	assert := assert.New(t)

	info := DeviceInfo{
		DevType: "",
		Major:   127,
		Minor:   0,
	}

	path := getSysDevPathImpl(info)
	assert.Empty(path)

	expectedFormat := fmt.Sprintf("%d:%d", info.Major, info.Minor)

	info.DevType = "c"
	path = getSysDevPathImpl(info)
	assert.Contains(path, expectedFormat)
	assert.Contains(path, "char")

	info.DevType = "b"
	path = getSysDevPathImpl(info)
	assert.Contains(path, expectedFormat)
	assert.Contains(path, "block")
}

func TestGetHostPath(t *testing.T) {
	assert := assert.New(t)

	info := DeviceInfo{
		Major: -1,
	}
	_, err := GetHostPath(info)
	assert.Error(err)

	info.HostPath = "/dev/null"
	path, err := GetHostPath(info)
	assert.NoError(err)
	assert.Equal(info.HostPath, path)
}

func TestGetHostPathUevent(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	orgGetSysDevPath := getSysDevPath
	getSysDevPath = func(info DeviceInfo) string {
		return dir
	}
	defer func() { getSysDevPath = orgGetSysDevPath }()

	content := []byte("MAJOR=253\nMINOR=3\nDEVNAME=vda3\nDEVTYPE=partition\n")
	err := os.WriteFile(filepath.Join(dir, "uevent"), content, os.FileMode(0644))
	assert.NoError(err)

	info := DeviceInfo{
		HostPath: "/dev/some-renamed-node",
		DevType:  "b",
		Major:    253,
		Minor:    3,
	}
	path, err := GetHostPath(info)
	assert.NoError(err)
	assert.Equal("/dev/vda3", path)
}

func TestGetVFIODeviceType(t *testing.T) {
	assert := assert.New(t)

	deviceType, err := GetVFIODeviceType("0000:04:00.0")
	assert.Equal(VFIODeviceNormalType, deviceType)
	assert.NoError(err)

	deviceType, err = GetVFIODeviceType("83b8f4f2-509f-382f-3c1e-e6bfe0fa1001")
	assert.Equal(VFIODeviceMediatedType, deviceType)
	assert.NoError(err)

	deviceType, err = GetVFIODeviceType("0000-04-00-0")
	assert.Equal(VFIODeviceErrorType, deviceType)
	assert.Error(err)
}

func TestBDFtoDeviceAndFunction(t *testing.T) {
	assert := assert.New(t)

	dev, fn, err := BDFtoDeviceAndFunction("0000:04:00.0")
	assert.NoError(err)
	assert.Equal("00", dev)
	assert.Equal("0", fn)

	dev, fn, err = BDFtoDeviceAndFunction("04:00.1")
	assert.NoError(err)
	assert.Equal("00", dev)
	assert.Equal("1", fn)

	_, _, err = BDFtoDeviceAndFunction("deadbeef")
	assert.Error(err)
}
