// Copyright (c) 2021 IBM
//
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "os"

// pefSysFirmwareDir exists when the host firmware supports the
// Protected Execution Facility.
const pefSysFirmwareDir = "/sys/firmware/ultravisor/"

// Returns pefProtection if the firmware directory exists
func availableGuestProtection() (guestProtection, error) {

	if d, err := os.Stat(pefSysFirmwareDir); err == nil && d.IsDir() {
		return pefProtection, err
	}

	return noneProtection, nil
}
