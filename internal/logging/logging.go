// SPDX-License-Identifier: MPL-2.0

// Package logging builds the provisioning logger. All phases write to a
// single append-only log file so the operator has one place to look after a
// failed boot, mirrored to stderr for interactive runs.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures the provisioning logger.
type Options struct {
	// FilePath is the append-only log file. Empty means stderr only.
	FilePath string
	// Verbose lowers the level to debug.
	Verbose bool
	// Quiet suppresses the stderr mirror (used when running as a systemd
	// unit, where stderr already lands in the journal).
	Quiet bool
}

// Open returns the provisioning logger and a close function for the
// underlying log file. The file is opened in append mode and created with
// 0644 if missing.
func Open(opts Options) (*log.Logger, func() error, error) {
	writers := make([]io.Writer, 0, 2)
	closeFn := func() error { return nil }

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}
	if !opts.Quiet || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	logger := log.NewWithOptions(io.MultiWriter(writers...), log.Options{
		Prefix:          "firstboot",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	if opts.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	return logger, closeFn, nil
}
