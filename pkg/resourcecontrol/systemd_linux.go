// Copyright (c) 2020 Intel Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package resourcecontrol

import (
	"context"
	"strings"

	"github.com/containerd/cgroups"
	systemdDbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
	"github.com/opencontainers/runc/libcontainer/cgroups/systemd"
)

func newProperty(name string, units interface{}) systemdDbus.Property {
	return systemdDbus.Property{
		Name:  name,
		Value: dbus.MakeVariant(units),
	}
}

// cgroupHierarchy resolves a cgroup path to the containerd v1
// hierarchy and path pair, expanding systemd slice paths.
func cgroupHierarchy(path string) (cgroups.Hierarchy, cgroups.Path, error) {
	if !IsSystemdCgroup(path) {
		return cgroups.V1, cgroups.StaticPath(path), nil
	}

	slice, unit, err := getSliceAndUnit(path)
	if err != nil {
		return nil, nil, err
	}

	cgroupSlicePath, err := systemd.ExpandSlice(slice)
	if err != nil {
		return nil, nil, err
	}

	return cgroups.Systemd, cgroups.Slice(cgroupSlicePath, unit), nil
}

// startTransientScope asks systemd for a transient unit carrying pid,
// with accounting delegated so the VMM's resources stay attributable.
func startTransientScope(slice string, unit string, pid int) error {
	ctx := context.TODO()
	conn, err := systemdDbus.NewWithContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	properties := []systemdDbus.Property{
		systemdDbus.PropDescription("cgroup " + unit),
		newProperty("DefaultDependencies", false),
		newProperty("MemoryAccounting", true),
		newProperty("CPUAccounting", true),
		newProperty("IOAccounting", true),
	}

	if strings.HasSuffix(unit, ".slice") {
		// A slice names its parent through a Wants=.
		properties = append(properties, systemdDbus.PropWants(slice))
	} else {
		// A scope sits inside a Slice=.
		properties = append(properties, systemdDbus.PropSlice(slice))
	}

	// Scopes have supported delegation since systemd v218.
	properties = append(properties, newProperty("Delegate", true))

	if pid != -1 {
		properties = append(properties, systemdDbus.PropPids(uint32(pid)))
	}

	ch := make(chan string)
	_, err = conn.StartTransientUnitContext(ctx, unit, "replace", properties, ch)
	if err != nil {
		return err
	}
	<-ch
	return nil
}
