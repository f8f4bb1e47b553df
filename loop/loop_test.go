package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestPostPreservesOrder(t *testing.T) {
	l := startLoop(t)
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Do(func() {})
	if len(got) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestAfterFuncDelays(t *testing.T) {
	l := startLoop(t)
	fired := make(chan time.Time, 1)
	start := time.Now()
	l.AfterFunc(50*time.Millisecond, func() { fired <- time.Now() })
	select {
	case at := <-fired:
		if at.Sub(start) < 50*time.Millisecond {
			t.Fatalf("fired after %v, want >= 50ms", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AfterFunc never fired")
	}
}

func TestEveryStops(t *testing.T) {
	l := startLoop(t)
	var n atomic.Int32
	stop := l.Every(10*time.Millisecond, func() { n.Add(1) })
	time.Sleep(80 * time.Millisecond)
	stop()
	l.Do(func() {})
	seen := n.Load()
	if seen == 0 {
		t.Fatal("Every never ran")
	}
	time.Sleep(50 * time.Millisecond)
	l.Do(func() {})
	if n.Load() != seen {
		t.Fatalf("Every kept running after stop: %d -> %d", seen, n.Load())
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("boom") })
	ran := false
	if !l.Do(func() { ran = true }) || !ran {
		t.Fatal("loop stopped after panic")
	}
}

func TestPostAfterClose(t *testing.T) {
	l := startLoop(t)
	l.Close()
	<-l.Done()
	if l.Post(func() {}) {
		t.Fatal("Post succeeded on closed loop")
	}
	if l.Do(func() {}) {
		t.Fatal("Do succeeded on closed loop")
	}
}
