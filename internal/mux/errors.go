// SPDX-License-Identifier: MIT
package mux

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolMissing means the external media tool is not installed or not
	// on PATH.
	ErrToolMissing = errors.New("mux: media tool not found")

	// ErrConcatIO marks a failure while building the concatenated
	// intermediate file.
	ErrConcatIO = errors.New("mux: segment concatenation failed")

	// ErrRemuxFailed is the sentinel under every RemuxError.
	ErrRemuxFailed = errors.New("mux: remux failed")
)

// RemuxError carries the tool's exit code and the tail of its diagnostic
// output.
type RemuxError struct {
	ExitCode   int
	StderrTail []string
}

func (e *RemuxError) Error() string {
	msg := fmt.Sprintf("%v (exit code %d)", ErrRemuxFailed, e.ExitCode)
	if len(e.StderrTail) > 0 {
		msg = msg + ": " + strings.Join(e.StderrTail, " | ")
	}
	return msg
}

func (e *RemuxError) Unwrap() error {
	return ErrRemuxFailed
}
