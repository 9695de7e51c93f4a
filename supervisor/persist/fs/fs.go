// Copyright (c) 2016 Intel Corporation
// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/confidential-containers/virtsupervisor/supervisor/utils"

	persistapi "github.com/confidential-containers/virtsupervisor/supervisor/persist/api"
	"github.com/sirupsen/logrus"
)

// persistFile is the file name for the JSON VM state record
const persistFile = "persist.json"

// dirMode is the permission bits used for creating a directory
const dirMode = os.FileMode(0700) | os.ModeDir

// fileMode is the permission bits used for creating a file
const fileMode = os.FileMode(0600)

// StoragePathSuffix is the suffix used for all storage paths
//
// Note: this very brief path represents "virtsupervisor". It is as
// terse as possible to minimise path length.
const StoragePathSuffix = "vs"

// vmPathSuffix is the suffix used for VM state records
const vmPathSuffix = "vms"

// runPathSuffix is the suffix used for per-VM runtime files such as
// API sockets, console sockets and shared mountpoints.
const runPathSuffix = "run"

// FS storage driver implementation
type FS struct {
	vmState         *persistapi.VMState
	storageRootPath string
	driverName      string
}

var fsLog = logrus.WithField("source", "virtsupervisor/persist/fs")

// Logger returns a logrus logger appropriate for logging Store messages
func (fs *FS) Logger() *logrus.Entry {
	return fsLog.WithFields(logrus.Fields{
		"subsystem": "persist",
		"driver":    fs.driverName,
	})
}

// Init FS persist driver and return abstract PersistDriver
func Init() (persistapi.PersistDriver, error) {
	return &FS{
		vmState:         &persistapi.VMState{},
		storageRootPath: filepath.Join("/run", StoragePathSuffix),
		driverName:      "fs",
	}, nil
}

func (fs *FS) vmDir(vid string) (string, error) {
	return filepath.Join(fs.RunStoragePath(), vid), nil
}

// ToDisk vmState to disk
func (fs *FS) ToDisk(vs persistapi.VMState) (retErr error) {
	id := vs.ID
	if id == "" {
		return fmt.Errorf("vm id required")
	}

	fs.vmState = &vs

	vmDir, err := fs.vmDir(id)
	if err != nil {
		return err
	}

	if err := utils.MkdirAllWithInheritedOwner(vmDir, dirMode); err != nil {
		return err
	}

	// if error happened, destroy all dirs
	defer func() {
		if retErr != nil {
			if err := fs.Destroy(id); err != nil {
				fs.Logger().WithError(err).Errorf("failed to destroy dirs")
			}
		}
	}()

	// persist VM state data
	vmFile := filepath.Join(vmDir, persistFile)
	f, err := os.OpenFile(vmFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(fs.vmState)
}

// FromDisk restores state for the VM with name vid
func (fs *FS) FromDisk(vid string) (persistapi.VMState, error) {
	vs := persistapi.VMState{}
	if vid == "" {
		return vs, fmt.Errorf("restore requires vm id")
	}

	vmDir, err := fs.vmDir(vid)
	if err != nil {
		return vs, err
	}

	// get VM state from persist data
	vmFile := filepath.Join(vmDir, persistFile)
	f, err := os.OpenFile(vmFile, os.O_RDONLY, fileMode)
	if err != nil {
		return vs, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(fs.vmState); err != nil {
		return vs, err
	}

	return *fs.vmState, nil
}

// Destroy removes everything from disk
func (fs *FS) Destroy(vid string) error {
	if vid == "" {
		return fmt.Errorf("vm id required")
	}

	vmDir, err := fs.vmDir(vid)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(vmDir); err != nil {
		return err
	}
	return nil
}

func (fs *FS) Lock(vid string, exclusive bool) (func() error, error) {
	if vid == "" {
		return nil, fmt.Errorf("vm id required")
	}

	vmDir, err := fs.vmDir(vid)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(vmDir)
	if err != nil {
		return nil, err
	}

	var lockType int
	if exclusive {
		lockType = syscall.LOCK_EX
	} else {
		lockType = syscall.LOCK_SH
	}

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		f.Close()
		return nil, err
	}

	unlockFunc := func() error {
		defer f.Close()
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
			return err
		}

		return nil
	}
	return unlockFunc, nil
}

func (fs *FS) RunStoragePath() string {
	return filepath.Join(fs.storageRootPath, vmPathSuffix)
}

func (fs *FS) RunVMStoragePath() string {
	return filepath.Join(fs.storageRootPath, runPathSuffix)
}
