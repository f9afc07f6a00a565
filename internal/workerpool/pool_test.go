package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(2, 8, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	var wg sync.WaitGroup
	var count int64
	for i := 0; i < 5; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
	}
	wg.Wait()

	if got := atomic.LoadInt64(&count); got != 5 {
		t.Errorf("count = %d, want 5", got)
	}
}

func TestPoolDropsTasksWhenQueueFull(t *testing.T) {
	p := New(1, 1, zerolog.Nop())
	// Deliberately not started: the queue fills and Submit must drop
	// rather than block the caller.
	block := make(chan struct{})
	p.Submit(func() { <-block })
	p.Submit(func() { <-block })
	p.Submit(func() { <-block })
	close(block)

	if p.Dropped() == 0 {
		t.Error("expected at least one dropped task when the queue is full")
	}
}

func TestPoolRecoversPanicAndContinues(t *testing.T) {
	p := New(1, 4, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	var ran int32
	p.Submit(func() { panic("boom") })
	p.Submit(func() { atomic.StoreInt32(&ran, 1) })

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&ran) == 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not continue processing tasks after a panic")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPoolQueueCapacityAndDepth(t *testing.T) {
	p := New(1, 4, zerolog.Nop())
	if p.QueueCapacity() != 4 {
		t.Errorf("QueueCapacity() = %d, want 4", p.QueueCapacity())
	}
	block := make(chan struct{})
	p.Submit(func() { <-block })
	if p.QueueDepth() != 1 {
		t.Errorf("QueueDepth() = %d, want 1", p.QueueDepth())
	}
	close(block)
}
