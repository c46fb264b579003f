// SPDX-License-Identifier: MIT

// Package procgroup starts external commands in their own process group and
// tears the whole group down when they outstay their welcome.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Terminate stops a process group gracefully: SIGTERM, wait up to grace for
// the command's Wait result on waitCh, then SIGKILL. The waitCh error is
// always consumed and returned so the caller never leaks a Wait goroutine.
// Safe to call with a nil command.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = Kill(cmd, syscall.SIGKILL)
	return <-waitCh
}
