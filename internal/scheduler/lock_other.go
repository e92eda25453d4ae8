// SPDX-License-Identifier: MIT

//go:build !unix

package scheduler

import "os"

// pidAlive is a conservative approximation where signal probing is
// unavailable: FindProcess succeeding counts as alive.
func pidAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
