// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForFileCreation blocks until path exists or the timeout expires.
// The parent directory is watched for creation events so that sockets
// created asynchronously by a child process (a jailer populating its
// chroot, a VMM binding its API socket) are picked up without polling.
// The parent directory must already exist.
func WaitForFileCreation(ctx context.Context, path string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("Creating watcher returned error %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("Watching %s returned error %w", filepath.Dir(path), err)
	}

	// The watch must be in place before the existence check, otherwise a
	// file created between the check and the watch would never be seen.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed waiting for %s", path)
			}
			if event.Op&fsnotify.Create == fsnotify.Create && event.Name == path {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed waiting for %s", path)
			}
			return err
		case <-timer.C:
			return fmt.Errorf("timed out waiting for %s after %v", path, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
