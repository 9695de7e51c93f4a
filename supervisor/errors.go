// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"fmt"

	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

// ConfigError reports a configuration rejected before any process or
// host resource was allocated. Resubmitting a corrected configuration
// is always safe.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// InvalidStateError reports an operation requested in a lifecycle
// state that forbids it. The caller picked the wrong moment, the
// controller itself is unharmed.
type InvalidStateError struct {
	Op    string
	State types.VmmState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s rejected, VMM state is %q", e.Op, e.State)
}

// StartFailedError reports that the backend could not be spawned or
// booted. Err carries the exit status or setup error the backend
// produced. The controller stays around for diagnostics.
type StartFailedError struct {
	Backend HypervisorType
	Err     error
}

func (e *StartFailedError) Error() string {
	return fmt.Sprintf("%s backend failed to start: %v", e.Backend, e.Err)
}

func (e *StartFailedError) Unwrap() error {
	return e.Err
}

// HotplugError reports the first device that could not be attached
// while draining the device queue. The devices named in Attached were
// added before the failure and stay attached, removing them is up to
// the caller.
type HotplugError struct {
	Failed   string
	Attached []string
	Err      error
}

func (e *HotplugError) Error() string {
	return fmt.Sprintf("hotplug of device %q failed with %d devices already attached: %v",
		e.Failed, len(e.Attached), e.Err)
}

func (e *HotplugError) Unwrap() error {
	return e.Err
}
