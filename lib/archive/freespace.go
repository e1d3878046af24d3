// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkFreeSpace fails when the archive volume has less than
// minFreeMB available. A refused archive also aborts the caller's
// deletion step, so a full disk never turns live sessions into
// nothing.
func checkFreeSpace(root string, minFreeMB int64) error {
	if minFreeMB <= 0 {
		return nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", root, err)
	}
	free := int64(st.Bavail) * int64(st.Bsize)
	need := minFreeMB * 1024 * 1024
	if free < need {
		return fmt.Errorf("archive volume low on space: %d MB free, %d MB required",
			free/(1024*1024), minFreeMB)
	}
	return nil
}
