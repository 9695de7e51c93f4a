// Copyright (c) 2019 ARM Limited
//
// SPDX-License-Identifier: Apache-2.0

package fcclient

// FcConfig is the VM configuration accepted by the firecracker
// --config-file option. It bundles the same payloads the API accepts,
// so a VM can be fully described before the VMM starts and booted
// without any pre-boot API requests.
type FcConfig struct {
	// boot source of the VM
	BootSource *BootSource `json:"boot-source"`

	// machine config of the VM
	MachineConfig *MachineConfiguration `json:"machine-config"`

	// vsock device
	Vsock *Vsock `json:"vsock,omitempty"`

	// logger of the VM
	Logger *Logger `json:"logger,omitempty"`

	// metrics of the VM
	Metrics *Metrics `json:"metrics,omitempty"`

	// block devices of the VM
	Drives []*Drive `json:"drives"`

	// network devices of the VM
	NetworkInterfaces []*NetworkInterface `json:"network-interfaces,omitempty"`
}
