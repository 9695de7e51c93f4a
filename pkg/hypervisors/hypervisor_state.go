// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package hypervisors

// HypervisorState is the runtime state a backend driver must surface so
// that a restarted managing process can re-attach to its VM. Everything
// here ends up inside the persisted record, so no field may be
// reconstructible only from process memory.
type HypervisorState struct {
	// Type of hypervisor, E.g. clh/firecracker/kvm.
	Type string

	// ID is the VM identifier the hypervisor was created under. Drivers
	// derive their on-disk paths (API socket, shared directories) from
	// it, so a restored driver needs it back.
	ID string

	// APISocket is the control socket path of a process VMM.
	APISocket string

	// JailRoot is the chroot base of a jailed VMM, empty otherwise.
	JailRoot string

	// NetNSPath is the network namespace the VMM was started in.
	NetNSPath string

	// GuestProtection is the confidential-computing technology that
	// was negotiated when the VM was created, or "none".
	GuestProtection string

	VirtiofsDaemonPid int
	Pid               int
}
