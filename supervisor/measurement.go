// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"encoding/hex"
	"strings"

	"github.com/confidential-containers/virtsupervisor/pkg/sev"
)

// expectedLaunchDigest computes the launch measurement the platform
// should report for a measured SEV direct boot with this
// configuration. Returns "" when the configuration carries no
// measured-boot artifacts.
func expectedLaunchDigest(protection guestProtection, config *HypervisorConfig) (string, error) {
	if protection != sevProtection && protection != snpProtection {
		return "", nil
	}
	if config.FirmwarePath == "" || config.KernelPath == "" {
		return "", nil
	}

	cmdline := strings.Join(SerializeParams(config.KernelParams, "="), " ")

	digest, err := sev.CalculateLaunchDigest(
		config.FirmwarePath,
		config.KernelPath,
		config.InitrdPath,
		cmdline)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(digest[:]), nil
}

// logLaunchDigest leaves the expected launch measurement in the log so
// an auditor can compare it against what the platform attests to. The
// digest is advisory here; failing to compute it does not block the
// VM.
func (lc *LifecycleController) logLaunchDigest() {
	digest, err := expectedLaunchDigest(lc.protection, &lc.config)
	if err != nil {
		lc.Logger().WithError(err).Warn("could not compute the expected launch digest")
		return
	}
	if digest == "" {
		return
	}

	lc.Logger().WithField("launch-digest", digest).Info("expected launch measurement")
}
