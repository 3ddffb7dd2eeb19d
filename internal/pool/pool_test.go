package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTask(t *testing.T) {
	p := New(2)
	defer p.Close()

	var ran atomic.Bool

	task, err := p.Submit(context.Background(), func() error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := task.Wait(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	if !ran.Load() {
		t.Error("task did not run")
	}
}

func TestPoolPropagatesTaskError(t *testing.T) {
	p := New(1)
	defer p.Close()

	taskErr := errors.New("task failed")

	task, err := p.Submit(context.Background(), func() error {
		return taskErr
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := task.Wait(context.Background()); !errors.Is(err, taskErr) {
		t.Errorf("expected %v, got %v", taskErr, err)
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := New(1)
	defer p.Close()

	task, err := p.Submit(context.Background(), func() error {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := task.Wait(context.Background()); err == nil {
		t.Fatal("expected panic to surface as error")
	}

	// The pool must stay usable after a panic.
	task, err = p.Submit(context.Background(), func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("Submit after panic failed: %v", err)
	}

	if err := task.Wait(context.Background()); err != nil {
		t.Errorf("task after panic failed: %v", err)
	}
}

func TestPoolConcurrentTasks(t *testing.T) {
	const numTasks = 50

	p := New(4)
	defer p.Close()

	var completed atomic.Int32

	tasks := make([]*Task, 0, numTasks)
	for i := 0; i < numTasks; i++ {
		task, err := p.Submit(context.Background(), func() error {
			completed.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		tasks = append(tasks, task)
	}

	for i, task := range tasks {
		if err := task.Wait(context.Background()); err != nil {
			t.Fatalf("task %d failed: %v", i, err)
		}
	}

	if got := completed.Load(); got != numTasks {
		t.Errorf("expected %d completed tasks, got %d", numTasks, got)
	}
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := New(1)
	p.Close()

	if _, err := p.Submit(context.Background(), func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPoolCloseWaitsForInFlight(t *testing.T) {
	p := New(2)

	var completed atomic.Int32

	for i := 0; i < 5; i++ {
		if _, err := p.Submit(context.Background(), func() error {
			time.Sleep(10 * time.Millisecond)
			completed.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	p.Close()

	if got := completed.Load(); got != 5 {
		t.Errorf("expected 5 completed tasks after Close, got %d", got)
	}
}

func TestPoolSubmitContextCancelled(t *testing.T) {
	p := New(1)
	defer p.Close()

	block := make(chan struct{})
	defer close(block)

	// Fill the single worker and the buffered channel.
	for i := 0; i < 3; i++ {
		if _, err := p.Submit(context.Background(), func() error {
			<-block
			return nil
		}); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := p.Submit(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
