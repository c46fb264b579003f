// SPDX-License-Identifier: MIT
package mux

import (
	"fmt"
	"io"
	"os"

	"github.com/strmforge/vodpull/internal/metrics"
)

// Concat appends the init segment (when present) and every segment file in
// strict index order into outPath. No reencoding happens here; the result
// is a raw fragmented stream ready for the remux pass.
func Concat(initPath string, segmentPaths []string, outPath string) (int64, error) {
	out, err := os.Create(outPath) // #nosec G304 -- path is derived from the job's own temp dir
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", ErrConcatIO, outPath, err)
	}

	var total int64
	appendFile := func(path string) error {
		in, err := os.Open(path) // #nosec G304
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrConcatIO, path, err)
		}
		n, err := io.Copy(out, in)
		closeErr := in.Close()
		total += n
		if err != nil {
			return fmt.Errorf("%w: append %s: %v", ErrConcatIO, path, err)
		}
		if closeErr != nil {
			return fmt.Errorf("%w: close %s: %v", ErrConcatIO, path, closeErr)
		}
		return nil
	}

	if initPath != "" {
		if err := appendFile(initPath); err != nil {
			_ = out.Close()
			return 0, err
		}
	}
	for _, path := range segmentPaths {
		if err := appendFile(path); err != nil {
			_ = out.Close()
			return 0, err
		}
	}

	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("%w: close %s: %v", ErrConcatIO, outPath, err)
	}
	metrics.RecordConcatBytes(total)
	return total, nil
}
