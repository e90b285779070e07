// Package logging implements the gateway's in-process log API: a
// process-wide mutexed writer onto a named pipe, consumed by a separate
// sink process (see internal/logsink). Every gateway component logs
// through a *Logger rather than writing to stdout/stderr directly, so
// that diagnostic output survives even if the gateway itself is killed
// before flushing anything to disk.
package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Level is a log severity, ordered from most to least severe.
type Level int

const (
	Fatal Level = iota
	Error
	Warning
	Info
	Debug
)

// tag is the fixed 9-character bracketed level tag the reference
// implementation pads every level string to, so that message bodies
// line up in a fixed column regardless of level.
func (l Level) tag() string {
	switch l {
	case Fatal:
		return "[FATAL]  "
	case Error:
		return "[ERROR]  "
	case Warning:
		return "[WARNING]"
	case Info:
		return "[INFO]   "
	case Debug:
		return "[DEBUG]  "
	default:
		return "[UNKNOWN]"
	}
}

// atomicWriteLimit mirrors PIPE_BUF on Linux: writes at or under this
// size are atomic with respect to other writers on the same pipe.
const atomicWriteLimit = 4096

// timestampLayout is the gateway's own log-line timestamp format.
const timestampLayout = "2006-01-02 15:04:05"

// ErrDegraded names the state the logger enters once the pipe has been
// closed after a broken-pipe write error. Log has no return value, so it
// never returns ErrDegraded; logging after this point is a silent no-op,
// matching the source's "degrade silently, sink has died" policy.
var ErrDegraded = errors.New("logging: sink pipe closed, logger degraded")

// Logger serializes writes from every gateway goroutine onto a single
// named-pipe file descriptor under one mutex.
type Logger struct {
	path string

	mu       sync.Mutex
	pipe     *os.File
	degraded bool
}

// CreateFIFO creates the named pipe at path with mode 0660, tolerating
// EEXIST so repeated startups (or a stale pipe from a prior crash) do
// not fail initialization.
func CreateFIFO(path string) error {
	if err := unix.Mkfifo(path, 0o660); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// New returns a Logger bound to the named pipe at path. The pipe must
// already exist (see CreateFIFO); the write end is not opened until
// OpenWrite is called.
func New(path string) *Logger {
	return &Logger{path: path}
}

// OpenWrite opens the write end of the named pipe. This blocks until a
// reader (the sink process) opens the read end, per POSIX FIFO
// semantics — callers must spawn the sink first.
func (l *Logger) OpenWrite() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open log fifo %s for writing: %w", l.path, err)
	}

	l.mu.Lock()
	l.pipe = f
	l.mu.Unlock()

	return nil
}

// Log formats and writes one log line. Writes are serialized by the
// logger's mutex; once the pipe has failed with a broken-pipe error the
// logger is permanently degraded and further calls are silent no-ops.
func (l *Logger) Log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s %s%s\n", time.Now().Format(timestampLayout), level.tag(), msg)

	line = truncateForAtomicWrite(line)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.degraded || l.pipe == nil {
		return
	}

	if _, err := l.pipe.WriteString(line); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			_ = l.pipe.Close()
			l.degraded = true
		}
	}
}

// truncateForAtomicWrite shortens a log line to atomicWriteLimit bytes,
// appending an ellipsis marker and the trailing newline, so a single
// Log call never spans more than one pipe write.
func truncateForAtomicWrite(line string) string {
	if len(line) <= atomicWriteLimit {
		return line
	}

	const marker = "...\n"
	cut := atomicWriteLimit - len(marker)
	if cut < 0 {
		cut = 0
	}

	var b bytes.Buffer
	b.WriteString(line[:cut])
	b.WriteString(marker)
	return b.String()
}

// Close closes the pipe write end and removes the FIFO from the
// filesystem. This is what causes the sink process to observe EOF and
// perform its own shutdown sequence.
func (l *Logger) Close() error {
	l.mu.Lock()
	pipe := l.pipe
	l.pipe = nil
	l.degraded = true
	l.mu.Unlock()

	var closeErr error
	if pipe != nil {
		closeErr = pipe.Close()
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove log fifo %s: %w", l.path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close log fifo: %w", closeErr)
	}
	return nil
}
