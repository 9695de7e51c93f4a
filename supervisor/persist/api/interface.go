// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package persistapi

// CurrentPersistVersion is the version of the persisted record format
// this package writes. Readers accept any record whose fields decode,
// relying on every added field having a usable zero value.
const CurrentPersistVersion uint = 1

// PersistDriver is interface describing operations to save/restore persist data
type PersistDriver interface {
	// ToDisk flushes data to disk(or other storage media such as a remote db)
	ToDisk(VMState) error
	// FromDisk will restore all data for the VM with `vid` from storage.
	FromDisk(vid string) (VMState, error)
	// Destroy will remove everything from storage
	Destroy(vid string) error
	// Lock locks the persist driver, "exclusive" decides whether the lock is exclusive or shared.
	// It returns Unlock Function and errors
	Lock(vid string, exclusive bool) (func() error, error)

	// RunStoragePath is the sandbox runtime directory.
	// It will contain one persist.json and one lock file for each created sandbox.
	RunStoragePath() string

	// RunVMStoragePath is the vm directory.
	// It will contain all guest vm sockets and shared mountpoints.
	RunVMStoragePath() string
}
