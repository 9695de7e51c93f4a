// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package fcclient

import (
	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"
)

// BootSource is the boot source of the microVM. The kernel image path is
// the only required field.
type BootSource struct {
	// Kernel boot arguments
	BootArgs string `json:"boot_args,omitempty"`

	// Host level path to the initrd image used to boot the guest
	InitrdPath string `json:"initrd_path,omitempty"`

	// Host level path to the kernel image used to boot the guest
	// Required: true
	KernelImagePath *string `json:"kernel_image_path"`
}

// Validate validates this boot source
func (m *BootSource) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("kernel_image_path", "body", m.KernelImagePath); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// Drive is a block device exposed to the guest.
type Drive struct {
	// drive id
	// Required: true
	DriveID *string `json:"drive_id"`

	// is read only
	// Required: true
	IsReadOnly *bool `json:"is_read_only"`

	// is root device
	// Required: true
	IsRootDevice *bool `json:"is_root_device"`

	// Represents the unique id of the boot partition of this device. It is
	// optional and it will be taken into account only if the is_root_device
	// field is true.
	Partuuid string `json:"partuuid,omitempty"`

	// Host level path for the guest drive
	// Required: true
	PathOnHost *string `json:"path_on_host"`

	// rate limiter
	RateLimiter *RateLimiter `json:"rate_limiter,omitempty"`
}

// Validate validates this drive
func (m *Drive) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("drive_id", "body", m.DriveID); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("is_read_only", "body", m.IsReadOnly); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("is_root_device", "body", m.IsRootDevice); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("path_on_host", "body", m.PathOnHost); err != nil {
		res = append(res, err)
	}

	if err := m.validateRateLimiter(formats); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *Drive) validateRateLimiter(formats strfmt.Registry) error {
	if m.RateLimiter == nil {
		return nil
	}

	if err := m.RateLimiter.Validate(formats); err != nil {
		if ve, ok := err.(*errors.Validation); ok {
			return ve.ValidateName("rate_limiter")
		}
		return err
	}

	return nil
}

// PartialDrive carries the fields of a drive that may be updated after
// boot. Only the backing file on the host may be changed.
type PartialDrive struct {
	// drive id
	// Required: true
	DriveID *string `json:"drive_id"`

	// Host level path for the guest drive
	// Required: true
	PathOnHost *string `json:"path_on_host"`
}

// Validate validates this partial drive
func (m *PartialDrive) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("drive_id", "body", m.DriveID); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("path_on_host", "body", m.PathOnHost); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// MachineConfiguration describes the number of vcpus, memory size and
// hyperthreading setting of the microVM.
type MachineConfiguration struct {
	// cpu template
	CPUTemplate string `json:"cpu_template,omitempty"`

	// Flag for enabling/disabling Hyperthreading
	// Required: true
	HtEnabled *bool `json:"ht_enabled"`

	// Memory size of VM
	// Required: true
	MemSizeMib *int64 `json:"mem_size_mib"`

	// Number of vCPUs (either 1 or an even number)
	// Required: true
	// Maximum: 32
	// Minimum: 1
	VcpuCount *int64 `json:"vcpu_count"`
}

// Validate validates this machine configuration
func (m *MachineConfiguration) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("ht_enabled", "body", m.HtEnabled); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("mem_size_mib", "body", m.MemSizeMib); err != nil {
		res = append(res, err)
	}

	if err := m.validateVcpuCount(formats); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *MachineConfiguration) validateVcpuCount(formats strfmt.Registry) error {
	if err := validate.Required("vcpu_count", "body", m.VcpuCount); err != nil {
		return err
	}

	if err := validate.MinimumInt("vcpu_count", "body", *m.VcpuCount, 1, false); err != nil {
		return err
	}

	if err := validate.MaximumInt("vcpu_count", "body", *m.VcpuCount, 32, false); err != nil {
		return err
	}

	return nil
}

// NetworkInterface is a tap device the guest sees as a virtio network
// interface.
type NetworkInterface struct {
	// If this field is set, the device model will reply to HTTP GET requests
	// sent to the MMDS address via this interface.
	AllowMmdsRequests bool `json:"allow_mmds_requests,omitempty"`

	// guest mac
	GuestMac string `json:"guest_mac,omitempty"`

	// Host level path for the guest network interface
	// Required: true
	HostDevName *string `json:"host_dev_name"`

	// iface id
	// Required: true
	IfaceID *string `json:"iface_id"`

	// rx rate limiter
	RxRateLimiter *RateLimiter `json:"rx_rate_limiter,omitempty"`

	// tx rate limiter
	TxRateLimiter *RateLimiter `json:"tx_rate_limiter,omitempty"`
}

// Validate validates this network interface
func (m *NetworkInterface) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("host_dev_name", "body", m.HostDevName); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("iface_id", "body", m.IfaceID); err != nil {
		res = append(res, err)
	}

	if err := m.validateRateLimiter("rx_rate_limiter", m.RxRateLimiter, formats); err != nil {
		res = append(res, err)
	}

	if err := m.validateRateLimiter("tx_rate_limiter", m.TxRateLimiter, formats); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *NetworkInterface) validateRateLimiter(name string, limiter *RateLimiter, formats strfmt.Registry) error {
	if limiter == nil {
		return nil
	}

	if err := limiter.Validate(formats); err != nil {
		if ve, ok := err.(*errors.Validation); ok {
			return ve.ValidateName(name)
		}
		return err
	}

	return nil
}

// RateLimiter defines an IO rate limiter with independent bytes/s and
// ops/s limits.
type RateLimiter struct {
	// Token bucket with bytes as tokens
	Bandwidth *TokenBucket `json:"bandwidth,omitempty"`

	// Token bucket with operations as tokens
	Ops *TokenBucket `json:"ops,omitempty"`
}

// Validate validates this rate limiter
func (m *RateLimiter) Validate(formats strfmt.Registry) error {
	var res []error

	if m.Bandwidth != nil {
		if err := m.Bandwidth.Validate(formats); err != nil {
			if ve, ok := err.(*errors.Validation); ok {
				res = append(res, ve.ValidateName("bandwidth"))
			} else {
				res = append(res, err)
			}
		}
	}

	if m.Ops != nil {
		if err := m.Ops.Validate(formats); err != nil {
			if ve, ok := err.(*errors.Validation); ok {
				res = append(res, ve.ValidateName("ops"))
			} else {
				res = append(res, err)
			}
		}
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// TokenBucket holds the token bucket parameters of a rate limiter. The
// refill rate is derived from size and refill_time.
type TokenBucket struct {
	// The initial size of a token bucket.
	// Minimum: 0
	OneTimeBurst *int64 `json:"one_time_burst,omitempty"`

	// The amount of milliseconds it takes for the bucket to refill.
	// Required: true
	// Minimum: 0
	RefillTime *int64 `json:"refill_time"`

	// The total number of tokens this bucket can hold.
	// Required: true
	// Minimum: 0
	Size *int64 `json:"size"`
}

// Validate validates this token bucket
func (m *TokenBucket) Validate(formats strfmt.Registry) error {
	var res []error

	if err := m.validateOneTimeBurst(formats); err != nil {
		res = append(res, err)
	}

	if err := m.validateRefillTime(formats); err != nil {
		res = append(res, err)
	}

	if err := m.validateSize(formats); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *TokenBucket) validateOneTimeBurst(formats strfmt.Registry) error {
	if m.OneTimeBurst == nil {
		return nil
	}

	return validate.MinimumInt("one_time_burst", "body", *m.OneTimeBurst, 0, false)
}

func (m *TokenBucket) validateRefillTime(formats strfmt.Registry) error {
	if err := validate.Required("refill_time", "body", m.RefillTime); err != nil {
		return err
	}

	return validate.MinimumInt("refill_time", "body", *m.RefillTime, 0, false)
}

func (m *TokenBucket) validateSize(formats strfmt.Registry) error {
	if err := validate.Required("size", "body", m.Size); err != nil {
		return err
	}

	return validate.MinimumInt("size", "body", *m.Size, 0, false)
}

// Vsock describes the hybrid vsock device. The VMM exposes the guest
// side on a host unix domain socket.
type Vsock struct {
	// Guest Vsock CID
	// Required: true
	// Minimum: 3
	GuestCid *int64 `json:"guest_cid"`

	// Path to UNIX domain socket, used to proxy vsock connections.
	// Required: true
	UdsPath *string `json:"uds_path"`

	// vsock id
	// Required: true
	VsockID *string `json:"vsock_id"`
}

// Validate validates this vsock
func (m *Vsock) Validate(formats strfmt.Registry) error {
	var res []error

	if err := m.validateGuestCid(formats); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("uds_path", "body", m.UdsPath); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("vsock_id", "body", m.VsockID); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *Vsock) validateGuestCid(formats strfmt.Registry) error {
	if err := validate.Required("guest_cid", "body", m.GuestCid); err != nil {
		return err
	}

	return validate.MinimumInt("guest_cid", "body", *m.GuestCid, 3, false)
}

// InstanceActionInfoActionTypeInstanceStart is the action that boots the
// configured microVM.
const InstanceActionInfoActionTypeInstanceStart = "InstanceStart"

var instanceActionTypes = []interface{}{"FlushMetrics", "InstanceStart", "SendCtrlAltDel"}

// InstanceActionInfo is a VM level action to be executed synchronously.
type InstanceActionInfo struct {
	// Enumeration indicating what type of action is contained in the payload
	// Required: true
	// Enum: [FlushMetrics InstanceStart SendCtrlAltDel]
	ActionType *string `json:"action_type"`
}

// Validate validates this instance action info
func (m *InstanceActionInfo) Validate(formats strfmt.Registry) error {
	var res []error

	if err := m.validateActionType(formats); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *InstanceActionInfo) validateActionType(formats strfmt.Registry) error {
	if err := validate.Required("action_type", "body", m.ActionType); err != nil {
		return err
	}

	return validate.EnumCase("action_type", "body", *m.ActionType, instanceActionTypes, true)
}

// InstanceInfo describes the current state of the microVM.
type InstanceInfo struct {
	// MicroVM / instance ID.
	// Required: true
	ID *string `json:"id"`

	// Whether the instance is started.
	// Required: true
	Started *bool `json:"started"`

	// MicroVM hypervisor build version.
	// Required: true
	VmmVersion *string `json:"vmm_version"`
}

// Validate validates this instance info
func (m *InstanceInfo) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("id", "body", m.ID); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("started", "body", m.Started); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("vmm_version", "body", m.VmmVersion); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

var loggerLevels = []interface{}{"Error", "Warning", "Info", "Debug"}

// Logger describes the named pipe and level for the VMM logs.
type Logger struct {
	// Set the level.
	// Enum: [Error Warning Info Debug]
	Level *string `json:"level,omitempty"`

	// Path to the named pipe or file for the human readable log output.
	// Required: true
	LogPath *string `json:"log_path"`

	// Whether or not to output the level in the logs.
	ShowLevel *bool `json:"show_level,omitempty"`

	// Whether or not to include the file path and line number of the log's origin.
	ShowLogOrigin *bool `json:"show_log_origin,omitempty"`
}

// Validate validates this logger
func (m *Logger) Validate(formats strfmt.Registry) error {
	var res []error

	if err := m.validateLevel(formats); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("log_path", "body", m.LogPath); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *Logger) validateLevel(formats strfmt.Registry) error {
	if m.Level == nil {
		return nil
	}

	return validate.EnumCase("level", "body", *m.Level, loggerLevels, true)
}

// Metrics describes the named pipe for the VMM metrics.
type Metrics struct {
	// Path to the named pipe or file where the JSON-formatted metrics are flushed.
	// Required: true
	MetricsPath *string `json:"metrics_path"`
}

// Validate validates this metrics
func (m *Metrics) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("metrics_path", "body", m.MetricsPath); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}
