package logsink_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dantte-lp/sensorgw/internal/logsink"
)

func fixedClock(t time.Time) logsink.Clock {
	return func() time.Time { return t }
}

func TestStartedBanner(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := logsink.New(&buf, fixedClock(ts), nil)

	if err := s.Started(); err != nil {
		t.Fatalf("Started: %v", err)
	}

	want := "0 2026-01-02 03:04:05 Log process started.\n"
	if buf.String() != want {
		t.Errorf("Started() wrote %q, want %q", buf.String(), want)
	}
}

func TestFeedAssemblesCompleteLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := logsink.New(&buf, fixedClock(ts), nil)

	if err := s.Feed([]byte("hello ")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := s.Feed([]byte("world\nsecond line\nthird")); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	got := buf.String()
	wantLines := []string{
		"1 2026-01-02 03:04:05 hello world\n",
		"2 2026-01-02 03:04:05 second line\n",
	}
	for _, want := range wantLines {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing line %q", got, want)
		}
	}
	if strings.Contains(got, "third") {
		t.Errorf("output %q should not yet contain unterminated remainder", got)
	}
}

func TestFlushPartialMarksIncompleteTail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := logsink.New(&buf, fixedClock(ts), nil)

	if err := s.Feed([]byte("no newline here")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := s.FlushPartial(); err != nil {
		t.Fatalf("FlushPartial: %v", err)
	}

	want := "1 2026-01-02 03:04:05 no newline here [PARTIAL/EOF]\n"
	if buf.String() != want {
		t.Errorf("FlushPartial wrote %q, want %q", buf.String(), want)
	}

	// A second FlushPartial with nothing pending must be a no-op.
	before := buf.String()
	if err := s.FlushPartial(); err != nil {
		t.Fatalf("second FlushPartial: %v", err)
	}
	if buf.String() != before {
		t.Errorf("second FlushPartial changed output: %q -> %q", before, buf.String())
	}
}

func TestFeedOverflowWarnsAndResets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var warned []string
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := logsink.New(&buf, fixedClock(ts), func(format string, args ...any) {
		warned = append(warned, format)
	})

	huge := bytes.Repeat([]byte("a"), 1500)
	if err := s.Feed(huge); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if len(warned) != 0 {
		t.Fatalf("unexpected warning after first chunk: %v", warned)
	}

	if err := s.Feed(huge); err != nil {
		t.Fatalf("Feed (second, triggers overflow): %v", err)
	}

	if len(warned) != 1 {
		t.Fatalf("warn called %d times, want 1", len(warned))
	}
	if !strings.Contains(buf.String(), "Assembly buffer overflow") {
		t.Errorf("output missing overflow line: %q", buf.String())
	}
}

func TestFinishedUsesNextSequenceNumber(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := logsink.New(&buf, fixedClock(ts), nil)

	if err := s.Feed([]byte("line one\n")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := s.Finished(); err != nil {
		t.Fatalf("Finished: %v", err)
	}

	want := "1 2026-01-02 03:04:05 line one\n2 2026-01-02 03:04:05 Log process finished.\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestRunReadsUntilEOFAndWritesBanners(t *testing.T) {
	t.Parallel()

	r := strings.NewReader("alpha\nbeta\ngamma")
	var out bytes.Buffer

	if err := logsink.Run(r, &out, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Log process started.",
		"alpha",
		"beta",
		"gamma [PARTIAL/EOF]",
		"Log process finished.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Run output missing %q, got:\n%s", want, got)
		}
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestRunPropagatesReadError(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := logsink.Run(errReader{}, &out, nil); err == nil {
		t.Fatal("Run with failing reader returned nil error")
	}
}
