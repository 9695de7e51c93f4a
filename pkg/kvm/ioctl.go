// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Request numbers follow the asm-generic ioctl encoding: direction in
// the top two bits, then the argument size, the driver type and the
// command number.
const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	// kvmIOC is the driver type shared by every KVM request.
	kvmIOC = 0xAE
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | kvmIOC<<iocTypeShift | nr<<iocNrShift
}

func io(nr uintptr) uintptr         { return ioc(iocNone, nr, 0) }
func iow(nr, size uintptr) uintptr  { return ioc(iocWrite, nr, size) }
func ior(nr, size uintptr) uintptr  { return ioc(iocRead, nr, size) }
func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

// ioctl issues a request whose argument is a pointer to a kernel
// structure. The conversion to uintptr happens in the syscall argument
// list so the referent stays live for the duration of the call.
func ioctl(fd, request uintptr, arg unsafe.Pointer) (uintptr, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, uintptr(arg))
	if errno != 0 {
		return ret, errno
	}
	return ret, nil
}

// ioctlVal issues a request whose argument is a plain value, or no
// argument at all.
func ioctlVal(fd, request, arg uintptr) (uintptr, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, arg)
	if errno != 0 {
		return ret, errno
	}
	return ret, nil
}
