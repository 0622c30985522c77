package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func drainCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmittedTasksRunBeforeDrainReturns(t *testing.T) {
	p := New()
	var count atomic.Int32
	for i := 0; i < 8; i++ {
		if !p.Submit(func() { count.Add(1) }) {
			t.Fatalf("Submit %d rejected", i)
		}
	}

	p.Drain(drainCtx(t, 5*time.Second))

	if got := count.Load(); got != 8 {
		t.Fatalf("ran %d tasks, want 8", got)
	}
}

func TestSubmitAfterStopAcceptingFails(t *testing.T) {
	p := New()
	p.StopAccepting()
	p.StopAccepting()

	if p.Submit(func() {}) {
		t.Fatal("Submit accepted a task after StopAccepting")
	}
	p.Drain(drainCtx(t, time.Second))
}

func TestBlockedTasksDoNotHoldBackOthers(t *testing.T) {
	p := New()
	release := make(chan struct{})
	started := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		p.Submit(func() {
			started <- struct{}{}
			<-release
		})
	}
	for i := 0; i < 16; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 16 blocked tasks started", i)
		}
	}

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task stalled behind blocked tasks")
	}
	if got := p.Active(); got != 16 {
		t.Fatalf("Active() = %d, want 16", got)
	}

	close(release)
	p.Drain(drainCtx(t, 5*time.Second))
	if got := p.Active(); got != 0 {
		t.Fatalf("Active() = %d after drain", got)
	}
}

func TestDrainGivesUpAtDeadline(t *testing.T) {
	p := New()
	release := make(chan struct{})
	defer close(release)
	p.Submit(func() { <-release })

	start := time.Now()
	p.Drain(drainCtx(t, 50*time.Millisecond))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Drain waited %v past its deadline", elapsed)
	}
	if p.Context().Err() == nil {
		t.Fatal("pool context should be cancelled after Drain")
	}
}

func TestPanickingTaskIsContained(t *testing.T) {
	p := New()
	var ran atomic.Bool
	p.Submit(func() { panic("collector exploded") })
	p.Submit(func() { ran.Store(true) })

	p.Drain(drainCtx(t, 5*time.Second))

	if !ran.Load() {
		t.Fatal("task next to a panic did not run")
	}
	if got := p.Active(); got != 0 {
		t.Fatalf("Active() = %d after drain", got)
	}
}

func TestSubmitRacingDrain(t *testing.T) {
	p := New()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				p.Submit(func() {})
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	p.Drain(drainCtx(t, 5*time.Second))
	close(stop)
	<-done

	if p.Submit(func() {}) {
		t.Fatal("Submit accepted a task after Drain")
	}
}
