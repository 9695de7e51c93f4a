// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package fs

import (
	"fmt"
	"os"
	"testing"

	hv "github.com/confidential-containers/virtsupervisor/pkg/hypervisors"
	persistapi "github.com/confidential-containers/virtsupervisor/supervisor/persist/api"
	"github.com/stretchr/testify/assert"
)

func getFsDriver(t *testing.T) (*FS, error) {
	driver, err := MockFSInit(t.TempDir())
	if err != nil {
		return nil, fmt.Errorf("failed to init fs driver")
	}
	fs, ok := driver.(*MockFS)
	if !ok {
		return nil, fmt.Errorf("failed to convert driver to *MockFS")
	}

	return fs.FS, nil
}

func TestFsLockShared(t *testing.T) {
	fs, err := getFsDriver(t)
	assert.Nil(t, err)
	assert.NotNil(t, fs)

	vid := "test-fs-driver"
	vmDir, err := fs.vmDir(vid)
	assert.Nil(t, err)

	err = os.MkdirAll(vmDir, dirMode)
	assert.Nil(t, err)

	// Take 2 shared locks
	unlockFunc, err := fs.Lock(vid, false)
	assert.Nil(t, err)

	unlockFunc2, err := fs.Lock(vid, false)
	assert.Nil(t, err)

	assert.Nil(t, unlockFunc())
	assert.Nil(t, unlockFunc2())
	assert.NotNil(t, unlockFunc2())
}

func TestFsLockExclusive(t *testing.T) {
	fs, err := getFsDriver(t)
	assert.Nil(t, err)
	assert.NotNil(t, fs)

	vid := "test-fs-driver"
	vmDir, err := fs.vmDir(vid)
	assert.Nil(t, err)

	err = os.MkdirAll(vmDir, dirMode)
	assert.Nil(t, err)

	// Take 1 exclusive lock
	unlockFunc, err := fs.Lock(vid, true)
	assert.Nil(t, err)

	assert.Nil(t, unlockFunc())

	unlockFunc, err = fs.Lock(vid, true)
	assert.Nil(t, err)

	assert.Nil(t, unlockFunc())
	assert.NotNil(t, unlockFunc())
}

func TestFsDriver(t *testing.T) {
	fs, err := getFsDriver(t)
	assert.Nil(t, err)
	assert.NotNil(t, fs)

	vs := persistapi.VMState{}
	// missing vm id
	assert.NotNil(t, fs.ToDisk(vs))

	id := "test-fs-driver"
	vs.ID = id
	assert.Nil(t, fs.ToDisk(vs))

	// try non-existent dir
	_, err = fs.FromDisk("test-fs")
	assert.NotNil(t, err)

	// state is still empty in disk file
	vs, err = fs.FromDisk(id)
	assert.Nil(t, err)
	assert.NotNil(t, vs)

	assert.Equal(t, vs.ID, id)
	assert.Equal(t, vs.State, "")

	// flush all to disk.
	vs.State = "running"
	vs.PersistVersion = persistapi.CurrentPersistVersion
	vs.HypervisorState = hv.HypervisorState{
		Pid:       9999,
		Type:      "clh",
		APISocket: "/run/vs/run/test-fs-driver/api.sock",
	}
	vs.Devices = []persistapi.DeviceState{
		{ID: "disk0", BackendID: "vda", Type: "block"},
		{ID: "net0", BackendID: "tap0", Type: "net"},
	}
	assert.Nil(t, fs.ToDisk(vs))
	vs, err = fs.FromDisk(id)
	assert.Nil(t, err)
	assert.NotNil(t, vs)

	assert.Equal(t, vs.ID, id)
	assert.Equal(t, vs.State, "running")
	assert.Equal(t, vs.PersistVersion, persistapi.CurrentPersistVersion)
	assert.Equal(t, vs.HypervisorState.Pid, 9999)
	assert.Equal(t, vs.HypervisorState.Type, "clh")

	// device order must survive the round trip.
	assert.Equal(t, len(vs.Devices), 2)
	assert.Equal(t, vs.Devices[0].ID, "disk0")
	assert.Equal(t, vs.Devices[0].BackendID, "vda")
	assert.Equal(t, vs.Devices[1].ID, "net0")
	assert.Equal(t, vs.Devices[1].Type, "net")

	// destroy whole vm dir.
	assert.Nil(t, fs.Destroy(id))

	dir, err := fs.vmDir(id)
	assert.Nil(t, err)
	assert.NotEqual(t, len(dir), 0)

	_, err = os.Stat(dir)
	assert.NotNil(t, err)
	assert.True(t, os.IsNotExist(err))
}
