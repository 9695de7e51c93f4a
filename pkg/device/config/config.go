// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// DeviceType indicates device type
type DeviceType string

const (
	// DeviceVFIO is the VFIO device type
	DeviceVFIO DeviceType = "vfio"

	// DeviceBlock is the block device type
	DeviceBlock DeviceType = "block"

	// DeviceNet is the network interface device type
	DeviceNet DeviceType = "net"

	// DeviceVSock is the vsock device type
	DeviceVSock DeviceType = "vsock"

	// DeviceGeneric is a generic device type
	DeviceGeneric DeviceType = "generic"
)

const (
	// VirtioMmio means use virtio-mmio for mmio based drives
	VirtioMmio = "virtio-mmio"

	// VirtioBlock means use virtio-blk for hotplugging drives
	VirtioBlock = "virtio-blk"

	// VirtioSCSI means use virtio-scsi for hotplugging drives
	VirtioSCSI = "virtio-scsi"

	// Nvdimm means use nvdimm for hotplugging drives
	Nvdimm = "nvdimm"
)

const (
	// VirtioFS means use virtio-fs for the shared file system
	VirtioFS = "virtio-fs"

	// NoSharedFS means *no* shared file system solution will be used
	// and files will be copied into the guest system.
	NoSharedFS = "none"
)

// Defining these as a variable instead of a const, to allow
// overriding this in the tests.

// SysDevPrefix is static string of /sys/dev
var SysDevPrefix = "/sys/dev"

// SysIOMMUGroupPath is static string of /sys/kernel/iommu_groups
var SysIOMMUGroupPath = "/sys/kernel/iommu_groups"

// SysBusPciDevicesPath is static string of /sys/bus/pci/devices
var SysBusPciDevicesPath = "/sys/bus/pci/devices"

var getSysDevPath = getSysDevPathImpl

// DeviceInfo is an embedded type that contains device data common to all types of devices.
type DeviceInfo struct {
	// HostPath is device path on host
	HostPath string

	// VMPath is the device path inside the guest, when known up front
	VMPath string

	// Type of device: c, b, u or p
	// c , u - character(unbuffered)
	// p - FIFO
	// b - block(buffered) special file
	// More info in mknod(1).
	DevType string

	// ID for the device that is passed to the hypervisor.
	ID string

	// Major, minor numbers for device.
	Major int64
	Minor int64

	// FileMode permission bits for the device.
	FileMode os.FileMode

	// id of the device owner.
	UID uint32

	// id of the device group.
	GID uint32

	// Pmem enabled persistent memory. Use HostPath as backing file
	// for a nvdimm device in the guest.
	Pmem bool

	// If applicable, should this device be considered RO
	ReadOnly bool
}

// BlockDrive represents a block storage drive which may be used in case the storage
// driver has an underlying block storage device.
type BlockDrive struct {
	// File is the path to the disk-image/device which will be used with this drive
	File string

	// Format of the drive
	Format string

	// ID is used to identify this drive in the hypervisor options.
	ID string

	// VirtPath at which the device appears inside the VM
	VirtPath string

	// PCIAddr is the PCI address the backend reported for the drive, if any
	PCIAddr string

	// Index assigned to the drive
	Index int

	// ReadOnly sets the device file readonly
	ReadOnly bool

	// Pmem enables persistent memory. Use File as backing file
	// for a nvdimm device in the guest
	Pmem bool

	// This block device is for swap
	Swap bool
}

// NetDev represents a tap-backed network interface to be handed to a VM.
type NetDev struct {
	// ID is used to identify the interface in the hypervisor options.
	ID string

	// IfaceName is the name of the interface inside the guest
	IfaceName string

	// TapName is the host tap device feeding this interface
	TapName string

	// MacAddress for the guest side of the interface
	MacAddress string

	// NumQueues is the number of virtio queue pairs
	NumQueues int

	// MTU of the interface
	MTU uint32
}

// VFIODeviceType indicates VFIO device type
type VFIODeviceType uint32

const (
	// VFIODeviceErrorType is the error type of VFIO device
	VFIODeviceErrorType VFIODeviceType = iota

	// VFIODeviceNormalType is a normal VFIO device type
	VFIODeviceNormalType

	// VFIODeviceMediatedType is a VFIO mediated device type
	VFIODeviceMediatedType
)

// VFIODev represents a VFIO PCI device used for hotplugging
type VFIODev struct {
	// ID is used to identify this drive in the hypervisor options.
	ID string

	// BDF (Bus:Device.Function) of the PCI address
	BDF string

	// sysfsdev of VFIO mediated device
	SysfsDev string

	// VendorID specifies vendor id
	VendorID string

	// DeviceID specifies device id
	DeviceID string

	// PCI Class Code
	Class string

	// Type of VFIO device
	Type VFIODeviceType

	// IsPCIe specifies device is PCIe or PCI
	IsPCIe bool

	// HostPath is the path to the device on the host
	HostPath string
}

// VSockDev represents a host vsock endpoint reserved for one VM.
type VSockDev struct {
	// ID is used to identify the device in the hypervisor options.
	ID string

	// ContextID is the guest CID reserved on /dev/vhost-vsock
	ContextID uint64

	// Port the guest agent listens on
	Port uint32

	// UdsPath is the host unix socket for hybrid vsock backends
	UdsPath string
}

// RNGDev represents a random number generator device
type RNGDev struct {
	// ID is used to identify the device in the hypervisor options.
	ID string
	// Filename is the file to use as entropy source.
	Filename string
}

// GetHostPathFunc is function pointer used to mock GetHostPath in tests.
var GetHostPathFunc = GetHostPath

// GetHostPath is used to fetch the host path for the device.
// We need to find the actual device path on the host based on the major-minor numbers of the device.
func GetHostPath(devInfo DeviceInfo) (string, error) {
	if devInfo.HostPath == "" && devInfo.Major == -1 {
		return "", fmt.Errorf("Empty path provided for device")
	}

	if devInfo.Major == -1 {
		return devInfo.HostPath, nil
	}

	ueventPath := filepath.Join(getSysDevPath(devInfo), "uevent")
	if _, err := os.Stat(ueventPath); err != nil {
		// Some devices(eg. /dev/fuse, /dev/cuse) do not always implement sysfs interface under /sys/dev
		//
		// Simply return the path passed in the device configuration, this does mean that no device renames are
		// supported for these devices.

		if os.IsNotExist(err) {
			return devInfo.HostPath, nil
		}

		return "", err
	}

	content, err := ini.Load(ueventPath)
	if err != nil {
		return "", err
	}

	devName, err := content.Section("").GetKey("DEVNAME")
	if err != nil {
		return "", err
	}

	return filepath.Join("/dev", devName.String()), nil
}

func getSysDevPathImpl(devInfo DeviceInfo) string {
	var pathComp string

	switch devInfo.DevType {
	case "c", "u":
		pathComp = "char"
	case "b":
		pathComp = "block"
	default:
		// Unsupported device types. Return nil error to ignore devices
		// that cannot be handled currently.
		return ""
	}

	format := strconv.FormatInt(devInfo.Major, 10) + ":" + strconv.FormatInt(devInfo.Minor, 10)
	return filepath.Join(SysDevPrefix, pathComp, format)
}

// GetVFIODeviceType returns the type of a VFIO device from the name of
// its sysfs entry. A standard PCI device is named after its BDF, a
// mediated device after its UUID.
func GetVFIODeviceType(deviceFilePath string) (VFIODeviceType, error) {
	deviceFileName := filepath.Base(deviceFilePath)

	//For example, 0000:04:00.0
	tokens := strings.Split(deviceFileName, ":")
	if len(tokens) == 3 {
		return VFIODeviceNormalType, nil
	}

	//For example, 83b8f4f2-509f-382f-3c1e-e6bfe0fa1001
	tokens = strings.Split(deviceFileName, "-")
	if len(tokens) != 5 {
		return VFIODeviceErrorType, fmt.Errorf("Incorrect tokens found while parsing VFIO details: %s", deviceFileName)
	}

	return VFIODeviceMediatedType, nil
}

// BDFtoDeviceAndFunction splits a BDF of the form [domain:]bus:device.function
// into its device and function parts.
func BDFtoDeviceAndFunction(bdf string) (string, string, error) {
	tokens := strings.Split(bdf, ":")
	if len(tokens) < 2 {
		return "", "", fmt.Errorf("Incorrect BDF: %s", bdf)
	}

	tokens = strings.SplitN(tokens[len(tokens)-1], ".", 2)
	if len(tokens) != 2 {
		return "", "", fmt.Errorf("Incorrect BDF: %s", bdf)
	}

	return tokens[0], tokens[1], nil
}
