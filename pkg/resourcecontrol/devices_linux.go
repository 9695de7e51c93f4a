// Copyright (c) 2020 Intel Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package resourcecontrol

import (
	"fmt"

	"github.com/opencontainers/runc/libcontainer/devices"
	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// DeviceToCgroupDeviceRule stats a host device node and converts it to
// an allow-all cgroup rule for that node.
func DeviceToCgroupDeviceRule(device string) (*devices.Rule, error) {
	var st unix.Stat_t
	deviceRule := devices.Rule{
		Allow:       true,
		Permissions: "rwm",
	}

	if err := unix.Stat(device, &st); err != nil {
		return nil, err
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFCHR:
		deviceRule.Type = 'c'
	case unix.S_IFBLK:
		deviceRule.Type = 'b'
	default:
		return nil, fmt.Errorf("unsupported device type: %v", st.Mode&unix.S_IFMT)
	}

	deviceRule.Major = int64(unix.Major(uint64(st.Rdev)))
	deviceRule.Minor = int64(unix.Minor(uint64(st.Rdev)))

	return &deviceRule, nil
}

// DeviceToLinuxDevice is DeviceToCgroupDeviceRule in the OCI spec
// shape.
func DeviceToLinuxDevice(device string) (specs.LinuxDeviceCgroup, error) {
	dev, err := DeviceToCgroupDeviceRule(device)
	if err != nil {
		return specs.LinuxDeviceCgroup{}, err
	}

	return specs.LinuxDeviceCgroup{
		Allow:  dev.Allow,
		Type:   string(dev.Type),
		Major:  &dev.Major,
		Minor:  &dev.Minor,
		Access: string(dev.Permissions),
	}, nil
}

// SetThreadAffinity pins a vCPU thread to the given host CPUs.
func SetThreadAffinity(threadID int, cpuSet []int) error {
	unixCPUSet := unix.CPUSet{}

	for _, cpuID := range cpuSet {
		unixCPUSet.Set(cpuID)
	}

	if err := unix.SchedSetaffinity(threadID, &unixCPUSet); err != nil {
		return fmt.Errorf("failed to set thread %d affinity to cpus %v: %w", threadID, cpuSet, err)
	}

	return nil
}
