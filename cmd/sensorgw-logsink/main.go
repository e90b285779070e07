// sensorgw-logsink is the gateway's dedicated log-sink process: it opens
// the read end of the gateway's named pipe, reassembles log lines, and
// appends them to a durable log file, reopening that file on SIGHUP so
// the log can be rotated externally (e.g. logrotate) without losing
// lines.
//
// Usage:
//
//	sensorgw-logsink <fifo-path> <log-file-path>
//
// It is spawned by the sensorgw orchestrator, which opens the pipe's
// write end only after this process has opened the read end.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dantte-lp/sensorgw/internal/logsink"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) != 3 {
		logger.Error("usage: sensorgw-logsink <fifo-path> <log-file-path>")
		return 2
	}
	fifoPath, logPath := os.Args[1], os.Args[2]

	r, err := os.OpenFile(fifoPath, os.O_RDONLY, 0)
	if err != nil {
		logger.Error("open fifo for reading", slog.String("path", fifoPath), slog.String("error", err.Error()))
		return 1
	}
	defer r.Close()

	out, err := newReopenableWriter(logPath)
	if err != nil {
		logger.Error("open log file", slog.String("path", logPath), slog.String("error", err.Error()))
		return 1
	}
	defer out.Close()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sighup:
				if err := out.Reopen(); err != nil {
					logger.Error("reopen log file on SIGHUP", slog.String("error", err.Error()))
				}
			case <-done:
				return
			}
		}
	}()

	warn := func(format string, args ...any) {
		logger.Warn(fmt.Sprintf(format, args...))
	}

	if err := logsink.Run(r, out, warn); err != nil {
		logger.Error("log sink exited with error", slog.String("error", err.Error()))
		return 1
	}

	return 0
}

// reopenableWriter wraps a log file, allowing the underlying *os.File to
// be swapped out for a freshly opened one (same path, append mode) while
// writes are in flight, so SIGHUP-driven rotation never races a Write.
type reopenableWriter struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func newReopenableWriter(path string) (*reopenableWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &reopenableWriter{path: path, f: f}, nil
}

func (w *reopenableWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Write(p)
}

// Reopen closes the current file and opens path anew, picking up a file
// moved aside by an external log rotator.
func (w *reopenableWriter) Reopen() error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", w.path, err)
	}

	w.mu.Lock()
	old := w.f
	w.f = f
	w.mu.Unlock()

	return old.Close()
}

func (w *reopenableWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
