// SPDX-License-Identifier: MIT

// Package mux turns ordered segment files into a single progressively
// streamable MP4, optionally with one embedded subtitle track.
package mux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/procgroup"
)

// stderrTailLines bounds how much diagnostic output a failure carries.
const stderrTailLines = 20

// Runner executes the external media tool and captures its stderr tail.
type Runner struct {
	binPath string
	logger  zerolog.Logger
}

// NewRunner builds a Runner for the given tool binary. Empty means "ffmpeg"
// resolved via PATH.
func NewRunner(binPath string) *Runner {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &Runner{
		binPath: binPath,
		logger:  log.WithComponent("mux"),
	}
}

// Probe verifies that the tool exists before any job needs it.
func (r *Runner) Probe() error {
	if _, err := exec.LookPath(r.binPath); err != nil {
		return fmt.Errorf("%w: install ffmpeg or point the daemon at it (%q)", ErrToolMissing, r.binPath)
	}
	return nil
}

// Run executes one tool invocation. The tool inherits no timeout beyond ctx;
// it is expected to terminate. A non-zero exit surfaces as a RemuxError with
// the stderr tail; a missing binary surfaces as ErrToolMissing.
func (r *Runner) Run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.binPath, args...) // #nosec G204 -- args are built internally
	procgroup.Set(cmd)

	ring := NewLineRing(256)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture tool stderr: %w", err)
	}

	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			ring.Append(scanner.Text())
		}
	}()

	log.WithContext(ctx, r.logger).Debug().Str("command", cmd.String()).Msg("starting media tool")

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: install ffmpeg or point the daemon at it (%q)", ErrToolMissing, r.binPath)
		}
		return fmt.Errorf("start media tool: %w", err)
	}

	waitErr := cmd.Wait()
	ioWg.Wait()

	if waitErr == nil {
		return nil
	}

	code := 1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	tail := ring.Tail(stderrTailLines)
	log.WithContext(ctx, r.logger).Error().
		Int("exit_code", code).
		Strs("stderr", tail).
		Msg("media tool failed")
	return &RemuxError{ExitCode: code, StderrTail: tail}
}
