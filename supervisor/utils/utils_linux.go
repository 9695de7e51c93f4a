// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

var ioctlFunc = Ioctl

// maxUInt represents the maximum valid value for the context ID.
// The upper 32 bits of the CID are reserved and zeroed.
// See http://stefanha.github.io/virtio/
var maxUInt uint64 = 1<<32 - 1

func Ioctl(fd uintptr, request, data uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, data); errno != 0 {
		return os.NewSyscallError("ioctl", fmt.Errorf("%d", int(errno)))
	}

	return nil
}

// MkdirAllWithInheritedOwner creates a directory named path, along with
// any necessary parents. Missing directories are created with the given
// permission bits and the ownership of the closest existing parent, so
// that storage trees rooted under a user-owned run directory stay
// accessible to that user. The path needs to be absolute.
func MkdirAllWithInheritedOwner(path string, perm os.FileMode) error {
	if len(path) == 0 {
		return fmt.Errorf("the path is empty")
	}

	// By default, use the uid and gid of the calling process.
	var uid = os.Getuid()
	var gid = os.Getgid()

	for _, dir := range pathDirectories(path) {
		info, err := os.Stat(dir)

		if err == nil {
			if info.IsDir() {
				// Inherit the uid and gid of the existing directory
				stat, ok := info.Sys().(*syscall.Stat_t)
				if !ok {
					return fmt.Errorf("fail to retrieve the stat of %s", dir)
				}
				uid = int(stat.Uid)
				gid = int(stat.Gid)
				continue
			}
			return &os.PathError{Op: "mkdir", Path: dir, Err: syscall.ENOTDIR}
		}

		if !os.IsNotExist(err) {
			return err
		}

		if err := os.Mkdir(dir, perm); err != nil && !os.IsExist(err) {
			return err
		}
		if err := syscall.Chown(dir, uid, gid); err != nil {
			return fmt.Errorf("fail to chown %s to %d:%d: %v", dir, uid, gid, err)
		}
	}

	return nil
}

// ChownToParent changes the owners of the path to the same of parent directory.
func ChownToParent(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("the path is not absolute: %v", path)
	}

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return err
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("fail to retrieve the stat of %s", filepath.Dir(path))
	}

	return syscall.Chown(path, int(stat.Uid), int(stat.Gid))
}

// pathDirectories returns every directory along path, root first.
func pathDirectories(path string) []string {
	var dirs []string

	for dir := filepath.Clean(path); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		dirs = append([]string{dir}, dirs...)
	}

	return dirs
}

// FindContextID finds a unique context ID by generating a random number between 3 and max unsigned int (maxUint).
// Using the ioctl VHOST_VSOCK_SET_GUEST_CID, FindContextID asks to the kernel if the given
// context ID (N) is available, when the context ID is not available, incrementing by 1 FindContextID
// iterates from N to maxUint until an available context ID is found, otherwise decrementing by 1
// FindContextID iterates from N to 3 until an available context ID is found, this is the last chance
// to find a context ID available.
// On success vhost file and a context ID greater or equal than 3 are returned, otherwise 0 and an error are returned.
// vhost file can be used to send vhost file descriptor to the VMM. It's the caller's responsibility to
// close vhost file descriptor.
//
// Benefits of using random context IDs:
// - Reduce the probability of a *DoS attack*, since other processes don't know what is the initial context ID
//   used by FindContextID to find a context ID available
//
func FindContextID() (*os.File, uint64, error) {
	// context IDs 0x0, 0x1 and 0x2 are reserved, 0x3 is the first context ID usable.
	var firstContextID uint64 = 0x3
	var contextID = firstContextID

	// Generate a random number
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxUInt)))
	if err == nil && n.Int64() >= int64(firstContextID) {
		contextID = uint64(n.Int64())
	}

	// Open vhost-vsock device to check what context ID is available.
	// This file descriptor holds/locks the context ID and it should be
	// inherited by the VMM process.
	vsockFd, err := os.OpenFile(VHostVSockDevicePath, syscall.O_RDWR, 0666)
	if err != nil {
		return nil, 0, err
	}

	// Looking for the first available context ID.
	for cid := contextID; cid <= maxUInt; cid++ {
		if err = ioctlFunc(vsockFd.Fd(), ioctlVhostVsockSetGuestCid, uintptr(unsafe.Pointer(&cid))); err == nil {
			return vsockFd, cid, nil
		}
	}

	// Last chance to get a free context ID.
	for cid := contextID - 1; cid >= firstContextID; cid-- {
		if err = ioctlFunc(vsockFd.Fd(), ioctlVhostVsockSetGuestCid, uintptr(unsafe.Pointer(&cid))); err == nil {
			return vsockFd, cid, nil
		}
	}

	vsockFd.Close()
	return nil, 0, fmt.Errorf("Could not get a unique context ID for the vsock : %s", err)
}
