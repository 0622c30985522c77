package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetsync/inventory/pkg/api"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "sub", "tasks.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func task(id int64, start *time.Time) api.Task {
	return api.Task{ID: id, Task: json.RawMessage(`{"name":"delete-user-profile","parameters":{"sid":"S-1"}}`), TimeStart: start}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	added, err := q.Enqueue(ctx, task(7, nil))
	if err != nil || !added {
		t.Fatalf("first Enqueue = %v, %v; want true, nil", added, err)
	}
	added, err = q.Enqueue(ctx, task(7, nil))
	if err != nil || added {
		t.Fatalf("second Enqueue = %v, %v; want false, nil", added, err)
	}

	e, err := q.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Status != api.TaskDownloaded {
		t.Fatalf("status = %s, want Downloaded", e.Status)
	}
	if e.Name != api.TaskDeleteUserProfile {
		t.Fatalf("name = %q", e.Name)
	}
}

func TestPendingHonoursTimeStart(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for _, tk := range []api.Task{task(3, &future), task(1, nil), task(2, &past)} {
		if _, err := q.Enqueue(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := q.Pending(ctx, now)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != 1 || pending[1].ID != 2 {
		t.Fatalf("pending = %+v, want ids 1 and 2", pending)
	}
	if pending[1].TimeStart == nil || !pending[1].TimeStart.Equal(past) {
		t.Fatalf("time_start = %v, want %v", pending[1].TimeStart, past)
	}

	pending, err = q.Pending(ctx, future)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending at start time = %d, want 3", len(pending))
	}
}

func TestClaimIsExclusive(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, task(1, nil)); err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := q.Claim(ctx, 1)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("claims won = %d, want 1", wins.Load())
	}

	pending, err := q.Pending(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("claimed task still pending: %+v", pending)
	}
}

func TestReleaseReturnsTaskToPending(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, task(1, nil)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := q.Claim(ctx, 1); !ok {
		t.Fatal("claim failed")
	}
	if err := q.Release(ctx, 1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := q.Claim(ctx, 1); !ok {
		t.Fatal("released task could not be claimed again")
	}
}

func TestFinishRecordsOutcome(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, task(1, nil)); err != nil {
		t.Fatal(err)
	}

	if err := q.Finish(ctx, 1, api.TaskFailed, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Finish before claim = %v, want ErrNotFound", err)
	}
	if err := q.Finish(ctx, 1, api.TaskRunning, nil); err == nil {
		t.Fatal("Finish with non-terminal status should fail")
	}

	q.Claim(ctx, 1)
	if err := q.Finish(ctx, 1, api.TaskFailed, json.RawMessage(`{"error":"unknown task"}`)); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	e, err := q.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != api.TaskFailed || string(e.Result) != `{"error":"unknown task"}` || e.FinishedAt == nil {
		t.Fatalf("entry = %+v", e)
	}
	if ok, _ := q.Claim(ctx, 1); ok {
		t.Fatal("finished task was claimed again")
	}
	if added, _ := q.Enqueue(ctx, task(1, nil)); added {
		t.Fatal("finished task was enqueued again")
	}
}

func TestInterruptedAndPrune(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	for _, id := range []int64{1, 2, 3} {
		if _, err := q.Enqueue(ctx, task(id, nil)); err != nil {
			t.Fatal(err)
		}
	}
	q.Claim(ctx, 1)
	q.Claim(ctx, 2)
	if err := q.Finish(ctx, 2, api.TaskSuccessful, nil); err != nil {
		t.Fatal(err)
	}

	running, err := q.Interrupted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].ID != 1 {
		t.Fatalf("interrupted = %+v, want task 1", running)
	}

	n, err := q.Prune(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	all, err := q.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("remaining = %d, want 2", len(all))
	}
	if _, err := q.Get(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get pruned = %v, want ErrNotFound", err)
	}
}
