// Copyright (c) 2021 Apple Inc.
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package resourcecontrol

import (
	"errors"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
)

// ErrCgroupMode is returned when the host cgroup hierarchy is in a
// mode (neither legacy, hybrid nor unified) this package cannot drive.
var ErrCgroupMode = errors.New("cgroup controller type error")

var controllerLogger = logrus.WithField("source", "virtsupervisor/resourcecontrol")

// SetLogger sets up a logger for this pkg
func SetLogger(logger *logrus.Entry) {
	fields := controllerLogger.Data

	controllerLogger = logger.WithFields(fields)
}

// ResourceControllerType describes a resource controller type.
type ResourceControllerType string

const (
	LinuxCgroups ResourceControllerType = "cgroups"
)

func (rType *ResourceControllerType) String() string {
	switch *rType {
	case LinuxCgroups:
		return string(LinuxCgroups)
	default:
		return "Unknown controller type"
	}
}

// ResourceController places the VMM process and its vCPU threads under
// a host resource controller. On Linux this is the cgroups API, v1 or
// v2, optionally managed through systemd transient units.
type ResourceController interface {
	// Type returns the resource controller implementation type.
	Type() ResourceControllerType

	// ID is the controller identifier, e.g. a Linux cgroups path.
	ID() string

	// Parent returns the parent controller path.
	Parent() string

	// Delete the controller.
	Delete() error

	// Stat returns the statistics for the controller.
	Stat() (interface{}, error)

	// AddProcess adds a process to the controller.
	AddProcess(int) error

	// AddThread adds a single thread (a vCPU thread, typically) to
	// the controller.
	AddThread(int) error

	// Update replaces the controlled resources, from an OCI
	// resources description.
	Update(*specs.LinuxResources) error

	// UpdateCpuSet updates the set of usable CPUs and memory nodes.
	UpdateCpuSet(cpuset, memset string) error
}
