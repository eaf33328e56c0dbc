package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/govisionhq/lens/internal/govision"
	"github.com/govisionhq/lens/internal/state"
)

// DefaultPollInterval is the reconciliation cadence.
const DefaultPollInterval = 3 * time.Second

// CompleteFunc runs when a job first transitions into the completed status.
// It fires at most once per job.
type CompleteFunc func(ctx context.Context, job state.Job)

// Engine is the polling state machine. It is Idle until a non-terminal job is
// registered via Ensure, then ticks at a fixed interval until the pending set
// empties, at which point it stops itself. Ticks never overlap: each tick
// awaits all of its status fetches before the next can fire.
type Engine struct {
	store      *state.Store
	fetcher    govision.JobFetcher
	interval   time.Duration
	log        *logrus.Logger
	onComplete CompleteFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	parent  context.Context

	tickMu  sync.Mutex
	expired atomic.Bool
}

// NewEngine builds an Engine. A nil onComplete disables the completion hook.
func NewEngine(store *state.Store, fetcher govision.JobFetcher, interval time.Duration, log *logrus.Logger, onComplete CompleteFunc) *Engine {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		store:      store,
		fetcher:    fetcher,
		interval:   interval,
		log:        log,
		onComplete: onComplete,
	}
}

// Ensure transitions the engine from Idle to Active if it is not already
// running. The first reconciliation fires synchronously before the interval
// loop is scheduled.
func (e *Engine) Ensure(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.parent = ctx
	e.mu.Unlock()

	if !e.Tick(loopCtx) {
		e.settle()
		return
	}
	go e.loop(loopCtx)
}

// Stop cancels the interval loop. Safe to call at any time, including when
// the engine is already Idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.running = false
}

// settle transitions to Idle, then re-checks the pending set. A job that a
// worker registered between the stop decision and the transition would have
// seen the engine as still running, so its Ensure was a no-op; restarting
// here closes that window.
func (e *Engine) settle() {
	e.mu.Lock()
	parent := e.parent
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.running = false
	e.mu.Unlock()

	if e.expired.Load() || parent == nil || parent.Err() != nil {
		return
	}
	if len(e.store.PendingIDs()) > 0 {
		e.Ensure(parent)
	}
}

// Running reports whether the interval loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SessionExpired reports whether polling hit an unrecoverable 401.
func (e *Engine) SessionExpired() bool {
	return e.expired.Load()
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return
		case <-ticker.C:
			if !e.Tick(ctx) {
				e.settle()
				return
			}
		}
	}
}

// Tick runs one reconciliation pass: it fetches status for every pending job
// concurrently and merges each successful response into the store. It returns
// false when there was nothing to reconcile, which stops the interval loop.
func (e *Engine) Tick(ctx context.Context) bool {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.expired.Load() {
		return false
	}
	ids := e.store.PendingIDs()
	if len(ids) == 0 {
		return false
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			e.reconcile(ctx, id)
		}(id)
	}
	wg.Wait()
	return true
}

// reconcile merges one job's server-reported state. A fetch error leaves the
// job untouched until the next tick.
func (e *Engine) reconcile(ctx context.Context, id string) {
	job, ok := e.store.Get(id)
	if !ok {
		return
	}

	resp, err := e.fetcher.FetchJob(ctx, id)
	if err != nil {
		if errors.Is(err, govision.ErrSessionExpired) {
			e.expired.Store(true)
			e.log.Error("session expired while polling; stopping")
			return
		}
		e.log.WithField("job", id).WithError(err).Debug("status fetch failed; will retry")
		return
	}

	wasCompleted := job.Status == state.StatusCompleted

	patch := state.Patch{}
	if resp.Status != "" {
		status := state.Status(resp.Status)
		patch.Status = &status
	}
	if resp.ImageURL != "" {
		patch.ImageURL = &resp.ImageURL
	}
	if resp.Predictions != nil {
		patch.Detections = resp.Predictions
	}
	updated := e.store.Merge(id, patch)

	if !wasCompleted && updated.Status == state.StatusCompleted && !updated.Downloaded {
		if e.onComplete != nil {
			e.onComplete(ctx, updated)
		}
		downloaded := true
		e.store.Merge(id, state.Patch{Downloaded: &downloaded})
	}
}
