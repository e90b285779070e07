// Package logsink implements the gateway's dedicated log-sink process
// logic: read the gateway's named pipe, reassemble newline-terminated
// lines from short reads, and append each to a durable log file with a
// monotonic sequence number and a fresh timestamp.
//
// This package is imported by the separate sensorgw-logsink binary
// (cmd/sensorgw-logsink) rather than implemented inline there, so the
// line-assembly algorithm is independently testable without an actual
// FIFO on disk.
package logsink

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// readChunkSize mirrors the reference implementation's FIFO_READ_BUFFER_SIZE.
const readChunkSize = 512

// assemblyBufferLimit mirrors ASSEMBLY_BUFFER_SIZE (4x the read chunk
// size): the maximum amount of unterminated data retained while waiting
// for a newline.
const assemblyBufferLimit = readChunkSize * 4

// timestampLayout matches the gateway logger's own line timestamp format.
const timestampLayout = "2006-01-02 15:04:05"

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Sink reassembles log lines from a byte stream and appends them to a
// writer with sequence numbers and timestamps.
type Sink struct {
	out  io.Writer
	now  Clock
	seq  uint64
	asm  []byte
	warn func(format string, args ...any)
}

// New constructs a Sink writing formatted lines to out. warn receives
// non-fatal diagnostics (assembly buffer overflow); it may be nil.
func New(out io.Writer, now Clock, warn func(format string, args ...any)) *Sink {
	if now == nil {
		now = time.Now
	}
	if warn == nil {
		warn = func(string, ...any) {}
	}
	return &Sink{out: out, now: now, seq: 1, warn: warn}
}

// Started writes the sink's startup line with sequence number 0, per
// the reference implementation's "0 <ts> Log process started." banner.
func (s *Sink) Started() error {
	_, err := fmt.Fprintf(s.out, "0 %s Log process started.\n", s.now().Format(timestampLayout))
	return err
}

// Finished writes the sink's shutdown line using the next sequence
// number, per "Log process finished."
func (s *Sink) Finished() error {
	_, err := fmt.Fprintf(s.out, "%d %s Log process finished.\n", s.seq, s.now().Format(timestampLayout))
	s.seq++
	return err
}

// Feed appends newly-read bytes to the assembly buffer and flushes every
// complete (newline-terminated) line it finds. An oversized assembly
// buffer (no newline found before assemblyBufferLimit is reached) is
// reported via warn and reset, matching the source's non-fatal overflow
// handling.
func (s *Sink) Feed(chunk []byte) error {
	if len(s.asm)+len(chunk) >= assemblyBufferLimit {
		s.warn("log sink: assembly buffer overflow, log messages may be lost")
		if err := s.writeLine([]byte("Log Process ERROR: Assembly buffer overflow.")); err != nil {
			return err
		}
		s.asm = s.asm[:0]
		return nil
	}

	s.asm = append(s.asm, chunk...)

	for {
		idx := indexByte(s.asm, '\n')
		if idx < 0 {
			break
		}
		line := s.asm[:idx]
		if err := s.writeLine(line); err != nil {
			return err
		}
		s.asm = s.asm[idx+1:]
	}

	return nil
}

// FlushPartial writes any unterminated bytes remaining in the assembly
// buffer, marked [PARTIAL/EOF], and clears it. Called once after the
// pipe's write end has been closed.
func (s *Sink) FlushPartial() error {
	if len(s.asm) == 0 {
		return nil
	}

	line := append(append([]byte{}, s.asm...), []byte(" [PARTIAL/EOF]")...)
	s.asm = s.asm[:0]
	return s.writeLine(line)
}

func (s *Sink) writeLine(message []byte) error {
	_, err := fmt.Fprintf(s.out, "%d %s %s\n", s.seq, s.now().Format(timestampLayout), message)
	s.seq++
	return err
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Run drives the sink's full read/assemble/write loop against an open
// pipe reader, until the reader returns io.EOF (write end closed) or a
// read error occurs. It writes the startup and shutdown banners itself.
func Run(r io.Reader, out io.Writer, warn func(format string, args ...any)) error {
	sink := New(out, time.Now, warn)

	if err := sink.Started(); err != nil {
		return fmt.Errorf("write startup banner: %w", err)
	}

	buf := make([]byte, readChunkSize)
	br := bufio.NewReaderSize(r, readChunkSize)

	for {
		n, err := br.Read(buf)
		if n > 0 {
			if feedErr := sink.Feed(buf[:n]); feedErr != nil {
				return fmt.Errorf("write log line: %w", feedErr)
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read from log pipe: %w", err)
		}
	}

	if err := sink.FlushPartial(); err != nil {
		return fmt.Errorf("flush partial line: %w", err)
	}

	if err := sink.Finished(); err != nil {
		return fmt.Errorf("write shutdown banner: %w", err)
	}

	return nil
}
