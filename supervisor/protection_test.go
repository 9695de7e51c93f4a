// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confidential-containers/virtsupervisor/pkg/rootless"
)

func TestGuestProtectionNames(t *testing.T) {
	assert := assert.New(t)

	for _, gp := range []guestProtection{
		noneProtection, tdxProtection, sevProtection,
		snpProtection, pefProtection, seProtection,
	} {
		assert.Equal(gp, guestProtectionFromName(gp.String()))
	}

	assert.Equal(noneProtection, guestProtectionFromName("enclave-9000"))
	assert.Equal(noneProtection, guestProtectionFromName(""))
}

func TestAvailableGuestProtectionRootless(t *testing.T) {
	assert := assert.New(t)

	orig := rootless.IsRootless
	rootless.IsRootless = func() bool { return true }
	defer func() { rootless.IsRootless = orig }()

	_, err := AvailableGuestProtection()
	assert.ErrorIs(err, ErrNoPerms)
}
