package buffer_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/sensorgw/internal/buffer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewInvalidCapacity(t *testing.T) {
	t.Parallel()

	if _, err := buffer.New[int](0); !errors.Is(err, buffer.ErrInvalidCapacity) {
		t.Errorf("New(0) error = %v, want %v", err, buffer.ErrInvalidCapacity)
	}
	if _, err := buffer.New[int](-1); !errors.Is(err, buffer.ErrInvalidCapacity) {
		t.Errorf("New(-1) error = %v, want %v", err, buffer.ErrInvalidCapacity)
	}
}

func TestInsertRemoveFIFO(t *testing.T) {
	t.Parallel()

	b, err := buffer.New[int](4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := range 10 {
		if err := b.Insert(i); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		got, err := b.Remove()
		if err != nil {
			t.Fatalf("Remove after Insert(%d): %v", i, err)
		}
		if got != i {
			t.Errorf("Remove() = %d, want %d", got, i)
		}
	}
}

func TestCapacityOneAndN(t *testing.T) {
	t.Parallel()

	for _, cap := range []int{1, 15} {
		b, err := buffer.New[int](cap)
		if err != nil {
			t.Fatalf("New(%d): %v", cap, err)
		}

		for i := range cap {
			if err := b.Insert(i); err != nil {
				t.Fatalf("capacity %d: Insert(%d): %v", cap, i, err)
			}
		}

		for i := range cap {
			got, err := b.Remove()
			if err != nil {
				t.Fatalf("capacity %d: Remove: %v", cap, err)
			}
			if got != i {
				t.Errorf("capacity %d: Remove() = %d, want %d", cap, got, i)
			}
		}
	}
}

func TestBlockingRemoveUnblocksOnInsert(t *testing.T) {
	t.Parallel()

	b, err := buffer.New[int](2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		v, err := b.Remove()
		if err != nil {
			t.Errorf("Remove: %v", err)
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	if err := b.Insert(42); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("Remove() = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Remove did not unblock after Insert")
	}
}

func TestBlockingInsertUnblocksOnRemove(t *testing.T) {
	t.Parallel()

	b, err := buffer.New[int](1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Insert(1); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Insert(2); err != nil {
			t.Errorf("blocked Insert: %v", err)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := b.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Insert did not unblock after Remove")
	}
}

func TestSignalShutdownDrainsThenSentinel(t *testing.T) {
	t.Parallel()

	b, err := buffer.New[int](4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Insert(1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := b.Insert(2); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	b.SignalShutdown()

	if err := b.Insert(3); !errors.Is(err, buffer.ErrShutdown) {
		t.Errorf("Insert after shutdown: err = %v, want %v", err, buffer.ErrShutdown)
	}

	for _, want := range []int{1, 2} {
		got, err := b.Remove()
		if err != nil {
			t.Fatalf("Remove of drained element: %v", err)
		}
		if got != want {
			t.Errorf("Remove() = %d, want %d", got, want)
		}
	}

	if _, err := b.Remove(); !errors.Is(err, buffer.ErrShutdown) {
		t.Errorf("Remove after drain: err = %v, want %v", err, buffer.ErrShutdown)
	}
}

func TestSignalShutdownIdempotent(t *testing.T) {
	t.Parallel()

	b, err := buffer.New[int](2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.SignalShutdown()
	b.SignalShutdown()

	if _, err := b.Remove(); !errors.Is(err, buffer.ErrShutdown) {
		t.Errorf("Remove after double shutdown: err = %v, want %v", err, buffer.ErrShutdown)
	}
}

func TestSignalShutdownWakesBlockedRemove(t *testing.T) {
	t.Parallel()

	b, err := buffer.New[int](2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Remove()
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	b.SignalShutdown()
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, buffer.ErrShutdown) {
			t.Errorf("blocked Remove error = %v, want %v", err, buffer.ErrShutdown)
		}
	}
}

func TestLenAndCap(t *testing.T) {
	t.Parallel()

	b, err := buffer.New[int](3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := b.Cap(); got != 3 {
		t.Errorf("Cap() = %d, want 3", got)
	}
	if got := b.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}

	if err := b.Insert(1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := b.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}
