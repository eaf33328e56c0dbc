package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/govisionhq/lens/internal/govision"
	"github.com/govisionhq/lens/internal/state"
)

// fakeFetcher replays a scripted sequence of responses per job id, repeating
// the final entry once the script runs out.
type fakeFetcher struct {
	mu     sync.Mutex
	script map[string][]*govision.JobStatusResponse
	errs   map[string]error
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		script: make(map[string][]*govision.JobStatusResponse),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) FetchJob(_ context.Context, id string) (*govision.JobStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[id]
	f.calls[id] = n + 1
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	seq := f.script[id]
	if len(seq) == 0 {
		return &govision.JobStatusResponse{}, nil
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], nil
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestEngine_TickWithNoPendingJobsStops(t *testing.T) {
	store := state.NewStore()
	e := NewEngine(store, newFakeFetcher(), time.Second, quietLogger(), nil)

	if e.Tick(context.Background()) {
		t.Fatal("Tick on an empty store should report nothing pending")
	}

	// Terminal and provisional jobs do not count as pending either.
	store.Set(state.Job{ID: "done", Status: state.StatusCompleted, CreatedAt: time.Now()})
	store.Set(state.Job{ID: "temp-1", Status: state.StatusUploading, Provisional: true, CreatedAt: time.Now()})
	if e.Tick(context.Background()) {
		t.Fatal("Tick should ignore terminal and provisional jobs")
	}
}

func TestEngine_TickMergesAndToleratesPartialFailure(t *testing.T) {
	store := state.NewStore()
	now := time.Now()
	store.Set(state.Job{ID: "a", Status: state.StatusQueued, CreatedAt: now})
	store.Set(state.Job{ID: "b", Status: state.StatusQueued, CreatedAt: now})

	fetcher := newFakeFetcher()
	fetcher.script["a"] = []*govision.JobStatusResponse{{Status: "pending"}}
	fetcher.errs["b"] = context.DeadlineExceeded

	e := NewEngine(store, fetcher, time.Second, quietLogger(), nil)
	if !e.Tick(context.Background()) {
		t.Fatal("Tick with pending jobs should keep running")
	}

	a, _ := store.Get("a")
	if a.Status != state.StatusPending {
		t.Fatalf("job a = %s, want pending merged from fetch", a.Status)
	}
	// b's fetch failed: state unchanged until the next tick.
	b, _ := store.Get("b")
	if b.Status != state.StatusQueued {
		t.Fatalf("job b = %s, want queued left untouched", b.Status)
	}
}

func TestEngine_CompletionFiresExportExactlyOnce(t *testing.T) {
	store := state.NewStore()
	store.Set(state.Job{ID: "abc", Status: state.StatusQueued, CreatedAt: time.Now()})

	fetcher := newFakeFetcher()
	fetcher.script["abc"] = []*govision.JobStatusResponse{
		{Status: "pending"},
		{Status: "completed", ImageURL: "http://x/img.png", Predictions: []govision.Detection{
			{CenterX: 50, CenterY: 50, Width: 20, Height: 20, ClassID: 1, Confidence: 0.9, ClassLabel: "cat"},
		}},
		{Status: "completed"},
	}

	var exports atomic.Int32
	e := NewEngine(store, fetcher, time.Second, quietLogger(), func(_ context.Context, job state.Job) {
		exports.Add(1)
		if job.ImageURL != "http://x/img.png" || len(job.Detections) != 1 {
			t.Errorf("export saw job %#v, want merged completed state", job)
		}
	})

	ctx := context.Background()
	e.Tick(ctx) // queued -> pending
	e.Tick(ctx) // pending -> completed, export fires
	if got := exports.Load(); got != 1 {
		t.Fatalf("exports = %d, want 1 on first completion", got)
	}

	job, _ := store.Get("abc")
	if !job.Downloaded {
		t.Fatal("job should be marked downloaded after export")
	}

	// Completed jobs leave the pending set; the next tick stops the loop and
	// never re-exports.
	if e.Tick(ctx) {
		t.Fatal("Tick after completion should report nothing pending")
	}
	if got := exports.Load(); got != 1 {
		t.Fatalf("exports = %d, want still 1", got)
	}
	job, _ = store.Get("abc")
	if !job.Downloaded {
		t.Fatal("downloaded must remain true on later polls")
	}
}

func TestEngine_EnsureStartsAndSelfStops(t *testing.T) {
	store := state.NewStore()
	store.Set(state.Job{ID: "abc", Status: state.StatusQueued, CreatedAt: time.Now()})

	fetcher := newFakeFetcher()
	fetcher.script["abc"] = []*govision.JobStatusResponse{{Status: "completed", ImageURL: "http://x/img.png"}}

	e := NewEngine(store, fetcher, 10*time.Millisecond, quietLogger(), nil)
	e.Ensure(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for e.Running() {
		if time.Now().After(deadline) {
			t.Fatal("engine did not stop after pending set emptied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	job, _ := store.Get("abc")
	if job.Status != state.StatusCompleted {
		t.Fatalf("job = %s, want completed", job.Status)
	}

	// Ensure on an idle engine with nothing pending stays idle.
	e.Ensure(context.Background())
	if e.Running() {
		t.Fatal("engine restarted with empty pending set")
	}
}

func TestEngine_EnsureIsIdempotentWhileActive(t *testing.T) {
	store := state.NewStore()
	store.Set(state.Job{ID: "abc", Status: state.StatusQueued, CreatedAt: time.Now()})

	fetcher := newFakeFetcher()
	fetcher.script["abc"] = []*govision.JobStatusResponse{{Status: "pending"}}

	e := NewEngine(store, fetcher, time.Hour, quietLogger(), nil)
	ctx := context.Background()
	e.Ensure(ctx)
	t.Cleanup(e.Stop)

	if !e.Running() {
		t.Fatal("engine should be active")
	}
	calls := fetcher.callCount("abc")
	e.Ensure(ctx)
	if got := fetcher.callCount("abc"); got != calls {
		t.Fatalf("second Ensure triggered %d extra fetches, want none", got-calls)
	}

	e.Stop()
	if e.Running() {
		t.Fatal("engine still running after Stop")
	}
}

func TestEngine_RestartsForJobRegisteredDuringSelfStop(t *testing.T) {
	store := state.NewStore()
	fetcher := newFakeFetcher()
	fetcher.script["late"] = []*govision.JobStatusResponse{{Status: "pending"}}

	e := NewEngine(store, fetcher, time.Hour, quietLogger(), nil)
	t.Cleanup(e.Stop)

	// Prime the engine the way a real run does, then let it go idle.
	e.Ensure(context.Background())
	if e.Running() {
		t.Fatal("engine should stay idle with nothing pending")
	}

	// A worker that confirms a job just as the loop decides to stop sees the
	// engine as still running, so its Ensure is a no-op. The stop path itself
	// must re-check the pending set and pick the job up.
	store.Set(state.Job{ID: "late", Status: state.StatusQueued, CreatedAt: time.Now()})
	e.settle()

	if !e.Running() {
		t.Fatal("engine idle with a job registered during the stop window")
	}
	if fetcher.callCount("late") == 0 {
		t.Fatal("restarted engine never polled the late job")
	}
}

func TestEngine_SessionExpiryStopsPolling(t *testing.T) {
	store := state.NewStore()
	store.Set(state.Job{ID: "abc", Status: state.StatusQueued, CreatedAt: time.Now()})

	fetcher := newFakeFetcher()
	fetcher.errs["abc"] = govision.ErrSessionExpired

	e := NewEngine(store, fetcher, time.Second, quietLogger(), nil)
	ctx := context.Background()

	e.Tick(ctx)
	if !e.SessionExpired() {
		t.Fatal("SessionExpired should be set after an unrecoverable 401")
	}
	if e.Tick(ctx) {
		t.Fatal("Tick after session expiry should stop the loop")
	}
}
