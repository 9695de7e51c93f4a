// Copyright (c) 2020 Intel Corporation
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package resourcecontrol

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultResourceControllerID is the runtime-determined location in
// the cgroups hierarchy relative paths are anchored under.
const DefaultResourceControllerID = "/vs"

var systemdCgroupRe = regexp.MustCompile(`([[:alnum:]]|\.)+:([[:alnum:]]|\.)+:([[:alnum:]]|\.)+`)

// IsSystemdCgroup reports whether path has the systemd
// slice:prefix:name form.
func IsSystemdCgroup(cgroupPath string) bool {
	found := systemdCgroupRe.FindStringIndex(cgroupPath)
	return found != nil && cgroupPath[found[0]:found[1]] == cgroupPath
}

// ValidCgroupPath returns a valid cgroup path for the host hierarchy.
// See https://github.com/opencontainers/runtime-spec/blob/master/config-linux.md#cgroups-path
func ValidCgroupPath(path string, isCgroupV2 bool, systemdCgroup bool) (string, error) {
	if IsSystemdCgroup(path) {
		if isCgroupV2 {
			return filepath.Join("/", path), nil
		}
		return path, nil
	}

	if systemdCgroup {
		return "", fmt.Errorf("malformed systemd path '%v': expected to be of form 'slice:prefix:name'", path)
	}

	// An absolute path is taken relative to the cgroups mount point.
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	// A relative path is interpreted against the runtime-determined
	// anchor.
	return filepath.Join(DefaultResourceControllerID, filepath.Clean("/"+path)), nil
}

// getSliceAndUnit splits a systemd cgroup path into its owning slice
// and the scope unit name for the VM.
func getSliceAndUnit(cgroupPath string) (string, string, error) {
	parts := strings.Split(cgroupPath, ":")
	if len(parts) == 3 && strings.HasSuffix(parts[0], ".slice") {
		return parts[0], fmt.Sprintf("%s-%s.scope", parts[1], parts[2]), nil
	}

	return "", "", fmt.Errorf("path %q is not a valid systemd cgroups path", cgroupPath)
}
