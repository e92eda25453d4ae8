// SPDX-License-Identifier: MIT

// Package procgroup places exec'd pipeline units in their own process group
// so a timed-out unit can be reaped together with any children it spawned.
package procgroup

import (
	"os/exec"
	"time"
)

// Set configures the command to start in a new process group.
// Mandatory for KillGroup to function as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group: SIGTERM, grace period, then
// SIGKILL. The process must have been spawned with Set.
func KillGroup(pid int, grace time.Duration) error {
	return killGroup(pid, grace)
}
