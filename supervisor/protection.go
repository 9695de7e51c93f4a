// Copyright (c) 2021 Intel Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"errors"

	"github.com/confidential-containers/virtsupervisor/pkg/rootless"
)

// guestProtection is the confidential computing technology the host can
// grant to a guest.
type guestProtection uint8

const (
	noneProtection guestProtection = iota

	// Intel Trust Domain Extensions
	tdxProtection

	// AMD Secure Encrypted Virtualization
	sevProtection

	// AMD Secure Encrypted Virtualization-Secure Nested Paging
	snpProtection

	// IBM POWER Protected Execution Facility
	pefProtection

	// IBM Secure Execution (IBM Z & LinuxONE)
	seProtection
)

var guestProtectionStr = [...]string{
	"none",
	"tdx",
	"sev",
	"snp",
	"pef",
	"se",
}

func (gp guestProtection) String() string {
	return guestProtectionStr[gp]
}

// guestProtectionFromName maps a persisted protection name back to its
// enum value. Unknown names map to noneProtection.
func guestProtectionFromName(name string) guestProtection {
	for i, s := range guestProtectionStr {
		if s == name {
			return guestProtection(i)
		}
	}
	return noneProtection
}

var (
	// ErrNoPerms is returned when the protection probe lacks the
	// privilege to inspect the host. The answer is "cannot determine",
	// never "no protection": reporting none here would let a caller
	// silently downgrade a confidential guest to a plain one.
	ErrNoPerms = errors.New("no permission to probe guest protection")

	// ErrInvalidValue is returned when the host carries a protection
	// capability but its required opt-in is missing or malformed.
	ErrInvalidValue = errors.New("invalid guest protection configuration")
)

// AvailableGuestProtection returns the guest protection technology the
// host supports, probing firmware markers, CPU feature flags and kernel
// module parameters as the architecture requires.
func AvailableGuestProtection() (guestProtection, error) {
	if rootless.IsRootless() {
		return noneProtection, ErrNoPerms
	}

	return availableGuestProtection()
}
