// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//
// Note that some variables are "var" to allow them to be modified
// by the tests.

package hvconfig

import "github.com/confidential-containers/virtsupervisor/pkg/device/config"

var defaultClhPath = "/usr/bin/cloud-hypervisor"
var defaultFirecrackerPath = "/usr/bin/firecracker"
var defaultJailerPath = "/usr/bin/jailer"
var defaultVirtioFSDaemonPath = "/usr/libexec/virtiofsd"
var defaultKernelPath = "/usr/share/virtsupervisor/vmlinux.container"
var defaultImagePath = "/usr/share/virtsupervisor/rootfs.img"
var defaultInitrdPath = "/usr/share/virtsupervisor/initrd.img"
var defaultFirmwarePath = ""

const defaultKernelParams = ""
const defaultVCPUCount uint32 = 1
const defaultMaxVCPUCount uint32 = 0
const defaultMemSize uint32 = 2048 // MiB
const defaultMemSlots uint32 = 10
const defaultBlockDeviceDriver = config.VirtioBlock
const defaultEntropySource = "/dev/urandom"
const defaultVirtioFSCacheMode = "never"
const defaultEnableDebug bool = false

// Default config file used by stateless systems.
var defaultRuntimeConfiguration = "/usr/share/defaults/virtsupervisor/configuration.toml"

// Alternate config file that takes precedence over
// defaultRuntimeConfiguration.
var defaultSysConfRuntimeConfiguration = "/etc/virtsupervisor/configuration.toml"
