package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func Test_Pool_RunsJobs(t *testing.T) {
	t.Parallel()

	p := NewPool(2, 8, time.Minute, nil)
	defer p.Shutdown(context.Background())

	results := make(chan int, 3)
	tasks := make([]*Task, 0, 3)
	for i := 0; i < 3; i++ {
		i := i
		task, err := p.Submit(func(context.Context) error {
			results <- i
			return nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		if err := task.Wait(context.Background()); err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	}
	if len(results) != 3 {
		t.Errorf("ran %d jobs, want 3", len(results))
	}
}

func Test_Pool_WaitReturnsJobError(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 4, time.Minute, nil)
	defer p.Shutdown(context.Background())

	boom := errors.New("stage exploded")
	task, err := p.Submit(func(context.Context) error { return boom })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := task.Wait(context.Background()); !errors.Is(got, boom) {
		t.Errorf("Wait() = %v, want %v", got, boom)
	}
}

func Test_Pool_SaturationRejectsSubmit(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 1, time.Minute, nil)
	defer p.Shutdown(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})

	// Occupies the single worker until released.
	running, err := p.Submit(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	// Fills the single queue slot.
	queued, err := p.Submit(func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Submit() while worker busy error = %v", err)
	}

	// Worker busy + queue full.
	if _, err := p.Submit(func(context.Context) error { return nil }); !errors.Is(err, ErrSaturated) {
		t.Errorf("Submit() error = %v, want ErrSaturated", err)
	}

	close(release)
	if err := running.Wait(context.Background()); err != nil {
		t.Errorf("running.Wait() error = %v", err)
	}
	if err := queued.Wait(context.Background()); err != nil {
		t.Errorf("queued.Wait() error = %v", err)
	}
}

func Test_Pool_JobTimeout(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 1, 30*time.Millisecond, nil)
	defer p.Shutdown(context.Background())

	task, err := p.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := task.Wait(context.Background()); !errors.Is(got, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", got)
	}
}

func Test_Pool_ShutdownDrainsAndRejects(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 4, time.Minute, nil)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		if _, err := p.Submit(func(context.Context) error {
			done <- struct{}{}
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(done) != 2 {
		t.Errorf("drained %d jobs, want 2", len(done))
	}

	if _, err := p.Submit(func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after shutdown error = %v, want ErrStopped", err)
	}
}

func Test_Task_WaitHonorsCallerContext(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 1, time.Minute, nil)
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	task, err := p.Submit(func(context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if got := task.Wait(ctx); !errors.Is(got, context.DeadlineExceeded) {
		t.Errorf("Wait() with expired context = %v, want DeadlineExceeded", got)
	}

	// The job itself was unaffected by the caller giving up.
	close(release)
	if err := task.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after release error = %v", err)
	}
}
