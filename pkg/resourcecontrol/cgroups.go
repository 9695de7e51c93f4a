//go:build linux

// Copyright (c) 2021-2022 Apple Inc.
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package resourcecontrol

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/containerd/cgroups"
	cgroupsv2 "github.com/containerd/cgroups/v2"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
)

// cgroup v2 mount point
const unifiedMountpoint = "/sys/fs/cgroup"

type LinuxCgroup struct {
	cgroup  interface{}
	path    string
	cpusets *specs.LinuxCPU
	devices []specs.LinuxDeviceCgroup

	sync.Mutex
}

// vmmDevices lists the host character devices a VMM process needs
// while confined to a device cgroup: the virtualization and virtqueue
// endpoints plus the usual pseudo devices.
func vmmDevices() []specs.LinuxDeviceCgroup {
	devices := []specs.LinuxDeviceCgroup{}

	devicePaths := []string{
		"/dev/null",
		"/dev/random",
		"/dev/full",
		"/dev/tty",
		"/dev/zero",
		"/dev/urandom",
		"/dev/console",

		"/dev/kvm",         // virtual machine creation
		"/dev/vhost-net",   // virtqueue offload
		"/dev/vfio/vfio",   // VFIO passthrough
		"/dev/vhost-vsock", // guest agent channel
	}

	for _, device := range devicePaths {
		ldevice, err := DeviceToLinuxDevice(device)
		if err != nil {
			controllerLogger.WithField("source", "cgroups").Warnf("Could not add %s to the devices cgroup", device)
			continue
		}
		devices = append(devices, ldevice)
	}

	wildcardMajor := int64(-1)
	wildcardMinor := int64(-1)
	ptsMajor := int64(136)
	tunMajor := int64(10)
	tunMinor := int64(200)

	wildcardDevices := []specs.LinuxDeviceCgroup{
		// allow mknod for any device
		{
			Allow:  true,
			Type:   "c",
			Major:  &wildcardMajor,
			Minor:  &wildcardMinor,
			Access: "m",
		},
		{
			Allow:  true,
			Type:   "b",
			Major:  &wildcardMajor,
			Minor:  &wildcardMinor,
			Access: "m",
		},
		// /dev/pts/*
		{
			Allow:  true,
			Type:   "c",
			Major:  &ptsMajor,
			Minor:  &wildcardMinor,
			Access: "rwm",
		},
		// tuntap
		{
			Allow:  true,
			Type:   "c",
			Major:  &tunMajor,
			Minor:  &tunMinor,
			Access: "rwm",
		},
	}

	return append(devices, wildcardDevices...)
}

// NewResourceController creates a cgroup at path, v1 or v2 depending
// on the host hierarchy mode.
func NewResourceController(path string, resources *specs.LinuxResources) (ResourceController, error) {
	var cgroup interface{}
	var cgroupPath string
	var err error

	switch cgroups.Mode() {
	case cgroups.Legacy, cgroups.Hybrid:
		cgroupPath, err = ValidCgroupPath(path, false, IsSystemdCgroup(path))
		if err != nil {
			return nil, err
		}
		cgroup, err = cgroups.New(cgroups.V1, cgroups.StaticPath(cgroupPath), resources)
		if err != nil {
			return nil, err
		}
	case cgroups.Unified:
		cgroupPath, err = ValidCgroupPath(path, true, IsSystemdCgroup(path))
		if err != nil {
			return nil, err
		}
		cgroup, err = cgroupsv2.NewManager(unifiedMountpoint, cgroupPath, cgroupsv2.ToResources(resources))
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrCgroupMode
	}

	return &LinuxCgroup{
		path:    cgroupPath,
		devices: resources.Devices,
		cpusets: resources.CPU,
		cgroup:  cgroup,
	}, nil
}

// NewSandboxResourceController creates the cgroup the VMM process and
// its vCPU threads are placed into, widened with the device rules a
// VMM needs. A systemd path creates a transient scope unit first and
// loads the resulting cgroup through the containerd API.
func NewSandboxResourceController(path string, resources *specs.LinuxResources, sandboxCgroupOnly bool) (ResourceController, error) {
	sandboxResources := *resources
	sandboxResources.Devices = append(sandboxResources.Devices, vmmDevices()...)

	// A systemd path with an overhead group beside it is managed
	// like a plain cgroupfs path.
	if !IsSystemdCgroup(path) || !sandboxCgroupOnly {
		return NewResourceController(path, &sandboxResources)
	}

	slice, unit, err := getSliceAndUnit(path)
	if err != nil {
		return nil, err
	}

	// github.com/containerd/cgroups cannot create a scope unit
	// against systemd for either hierarchy; talk to systemd
	// directly, then load the cgroup it made.
	if err := startTransientScope(slice, unit, os.Getpid()); err != nil {
		return nil, err
	}

	var cgroup interface{}

	switch cgroups.Mode() {
	case cgroups.Legacy, cgroups.Hybrid:
		cgHierarchy, cgPath, err := cgroupHierarchy(path)
		if err != nil {
			return nil, err
		}
		cg, err := cgroups.Load(cgHierarchy, cgPath)
		if err != nil {
			return nil, err
		}
		if err := cg.Update(&sandboxResources); err != nil {
			return nil, err
		}
		cgroup = cg
	case cgroups.Unified:
		cg, err := cgroupsv2.LoadSystemd(slice, unit)
		if err != nil {
			return nil, err
		}
		if err := cg.Update(cgroupsv2.ToResources(&sandboxResources)); err != nil {
			return nil, err
		}
		cgroup = cg
	default:
		return nil, ErrCgroupMode
	}

	return &LinuxCgroup{
		path:    path,
		devices: sandboxResources.Devices,
		cpusets: sandboxResources.CPU,
		cgroup:  cgroup,
	}, nil
}

// LoadResourceController re-attaches to a cgroup created by an earlier
// process, after a controller restore.
func LoadResourceController(path string) (ResourceController, error) {
	var cgroup interface{}

	switch cgroups.Mode() {
	case cgroups.Legacy, cgroups.Hybrid:
		cgHierarchy, cgPath, err := cgroupHierarchy(path)
		if err != nil {
			return nil, err
		}
		cgroup, err = cgroups.Load(cgHierarchy, cgPath)
		if err != nil {
			return nil, err
		}
	case cgroups.Unified:
		if IsSystemdCgroup(path) {
			slice, unit, err := getSliceAndUnit(path)
			if err != nil {
				return nil, err
			}
			cgroup, err = cgroupsv2.LoadSystemd(slice, unit)
			if err != nil {
				return nil, err
			}
		} else {
			var err error
			cgroup, err = cgroupsv2.LoadManager(unifiedMountpoint, path)
			if err != nil {
				return nil, err
			}
		}
	default:
		return nil, ErrCgroupMode
	}

	return &LinuxCgroup{
		path:   path,
		cgroup: cgroup,
	}, nil
}

func (c *LinuxCgroup) Logger() *logrus.Entry {
	return controllerLogger.WithField("source", "cgroups")
}

func (c *LinuxCgroup) Delete() error {
	switch cg := c.cgroup.(type) {
	case cgroups.Cgroup:
		return cg.Delete()
	case *cgroupsv2.Manager:
		if IsSystemdCgroup(c.ID()) {
			if err := cg.DeleteSystemd(); err != nil {
				return err
			}
		}
		return cg.Delete()
	default:
		return ErrCgroupMode
	}
}

func (c *LinuxCgroup) Stat() (interface{}, error) {
	switch cg := c.cgroup.(type) {
	case cgroups.Cgroup:
		return cg.Stat(cgroups.IgnoreNotExist)
	case *cgroupsv2.Manager:
		return cg.Stat()
	default:
		return nil, ErrCgroupMode
	}
}

func (c *LinuxCgroup) AddProcess(pid int) error {
	switch cg := c.cgroup.(type) {
	case cgroups.Cgroup:
		return cg.AddProc(uint64(pid))
	case *cgroupsv2.Manager:
		return cg.AddProc(uint64(pid))
	default:
		return ErrCgroupMode
	}
}

func (c *LinuxCgroup) AddThread(tid int) error {
	switch cg := c.cgroup.(type) {
	case cgroups.Cgroup:
		return cg.AddTask(cgroups.Process{Pid: tid})
	case *cgroupsv2.Manager:
		return cg.AddProc(uint64(tid))
	default:
		return ErrCgroupMode
	}
}

func (c *LinuxCgroup) Update(resources *specs.LinuxResources) error {
	switch cg := c.cgroup.(type) {
	case cgroups.Cgroup:
		return cg.Update(resources)
	case *cgroupsv2.Manager:
		return cg.Update(cgroupsv2.ToResources(resources))
	default:
		return ErrCgroupMode
	}
}

func (c *LinuxCgroup) UpdateCpuSet(cpuset, memset string) error {
	c.Lock()
	defer c.Unlock()

	if len(cpuset) > 0 {
		if c.cpusets == nil {
			c.cpusets = &specs.LinuxCPU{}
		}
		c.cpusets.Cpus = cpuset
	}

	if len(memset) > 0 {
		if c.cpusets == nil {
			c.cpusets = &specs.LinuxCPU{}
		}
		c.cpusets.Mems = memset
	}

	return c.Update(&specs.LinuxResources{CPU: c.cpusets})
}

func (c *LinuxCgroup) Type() ResourceControllerType {
	return LinuxCgroups
}

func (c *LinuxCgroup) ID() string {
	return c.path
}

func (c *LinuxCgroup) Parent() string {
	return filepath.Dir(c.path)
}
