// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
)

func TestValidateNetNSPath(t *testing.T) {
	assert := assert.New(t)

	// an empty path means the current namespace
	assert.NoError(validateNetNSPath(""))

	assert.Error(validateNetNSPath(filepath.Join(t.TempDir(), "missing")))

	path := filepath.Join(t.TempDir(), "netns")
	assert.NoError(os.WriteFile(path, nil, 0o600))
	assert.NoError(validateNetNSPath(path))
}

func TestTapDeviceExistsMissing(t *testing.T) {
	assert := assert.New(t)

	exists, err := tapDeviceExists("", "tap-does-not-exist0")
	assert.NoError(err)
	assert.False(exists)
}

func TestIsPhysicalIfaceLoopback(t *testing.T) {
	assert := assert.New(t)

	physical, err := isPhysicalIface("lo")
	assert.NoError(err)
	assert.False(physical)
}

func TestKvmSetupTAPRequiresName(t *testing.T) {
	assert := assert.New(t)

	k := &kvmHypervisor{}
	err := k.setupTAP(config.NetDev{ID: "net0"})
	assert.Error(err)
}

func TestCreateRemoveTAPDevice(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("creating tap devices needs root")
	}

	assert := assert.New(t)
	const name = "tap0_vs_test"

	err := createTAPDevice("", name, 1, 1500)
	assert.NoError(err)
	defer removeTAPDevice("", name)

	exists, err := tapDeviceExists("", name)
	assert.NoError(err)
	assert.True(exists)

	physical, err := isPhysicalIface(name)
	assert.NoError(err)
	assert.False(physical)

	assert.NoError(removeTAPDevice("", name))

	exists, err = tapDeviceExists("", name)
	assert.NoError(err)
	assert.False(exists)

	// removing an already removed tap is not an error
	assert.NoError(removeTAPDevice("", name))
}

func TestKvmSetupTAPTracksCreatedTaps(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("creating tap devices needs root")
	}

	assert := assert.New(t)

	k := &kvmHypervisor{}
	netdev := config.NetDev{ID: "net0", TapName: "tap1_vs_test", NumQueues: 1, MTU: 1500}

	err := k.setupTAP(netdev)
	assert.NoError(err)
	assert.Contains(k.createdTaps, netdev.TapName)

	// a second setup finds the tap and does not create it again
	err = k.setupTAP(netdev)
	assert.NoError(err)
	assert.Len(k.createdTaps, 1)

	k.teardownTAPs()
	assert.Empty(k.createdTaps)

	exists, err := tapDeviceExists("", netdev.TapName)
	assert.NoError(err)
	assert.False(exists)
}
