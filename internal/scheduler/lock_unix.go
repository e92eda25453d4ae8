// SPDX-License-Identifier: MIT

//go:build unix

package scheduler

import (
	"errors"
	"syscall"
)

// pidAlive probes process existence with signal 0.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return !errors.Is(err, syscall.ESRCH)
}
