package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/torturbo/internal/adapters/repository"
)

func snap(id string) repository.Snapshot {
	return repository.Snapshot{RequestID: id, State: "ready", At: time.Now()}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, snap("req-1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.RequestID != "req-1" {
		t.Errorf("expected req-1, got %v", got.RequestID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, snap("req-1")) || !q.Enqueue(ctx, snap("req-2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, snap("req-3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CanceledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, snap("req-1")) {
		t.Error("expected enqueue to fail with a canceled context")
	}

	if _, ok := <-q.Dequeue(ctx); ok {
		t.Error("expected dequeue channel to close with a canceled context")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(16))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const producers, perProducer = 4, 50

	var consumed sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		ch := q.Dequeue(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range ch {
				consumed.Store(s.RequestID, true)
			}
		}()
	}

	var pg sync.WaitGroup
	for i := 0; i < producers; i++ {
		pg.Add(1)
		go func(id int) {
			defer pg.Done()
			for j := 0; j < perProducer; j++ {
				s := snap(fmt.Sprintf("req-%d-%d", id, j))
				for !q.Enqueue(ctx, s) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}
	pg.Wait()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	n := 0
	consumed.Range(func(any, any) bool { n++; return true })
	if n != producers*perProducer {
		t.Errorf("expected %d snapshots consumed, got %d", producers*perProducer, n)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, snap("req-1")) || !q.Enqueue(ctx, snap("req-2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, snap("req-3")) {
		t.Error("expected enqueue to fail after closing")
	}

	// pending snapshots drain before the channel closes
	var drained []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for done := false; !done; {
		select {
		case s, ok := <-ch:
			if !ok {
				done = true
				break
			}
			drained = append(drained, s.RequestID)
		case <-timeout:
			t.Fatal("expected dequeue channel to close within timeout")
		}
	}
	if len(drained) != 2 || drained[0] != "req-1" || drained[1] != "req-2" {
		t.Errorf("expected req-1 and req-2 drained in order, got %v", drained)
	}

	if err := q.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on second close, got %v", err)
	}
}
