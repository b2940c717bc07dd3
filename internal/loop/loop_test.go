package loop

import (
	"context"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	go func() { _ = l.Run(context.Background()) }()
	t.Cleanup(func() {
		l.Stop()
		<-l.Done()
	})
	return l
}

func TestPostPreservesOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	doneCh := make(chan struct{})
	for i := 1; i <= 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(func() { close(doneCh) })

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not drain posted calls")
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("call order %v, want ascending", got)
		}
	}
}

func TestQueuedCallsRunBeforeStop(t *testing.T) {
	l := New()

	ran := false
	l.Post(func() { ran = true })
	l.Stop()

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if !ran {
		t.Fatal("call queued before Stop was dropped")
	}
}

func TestAfterFiresOnLoop(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.After(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("After callback never fired")
	}
}

func TestRunHonorsContext(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Run(ctx); err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	// Posting after the loop finished must not block.
	done := make(chan struct{})
	go func() {
		l.Post(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post blocked after loop finished")
	}
}
