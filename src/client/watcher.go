package client

import (
	"context"
	"sync"
	"time"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

const (
	// DefaultPollInterval is used while a job is active and the push
	// channel is healthy.
	DefaultPollInterval = 5 * time.Second
	// FastPollInterval kicks in while the push channel is down mid-job.
	FastPollInterval = time.Second
	// DefaultRefreshCeiling bounds the manual-refresh spinner. The
	// spinner clears as soon as the poll settles, or at the ceiling,
	// whichever comes first.
	DefaultRefreshCeiling = 8 * time.Second
)

// Watcher ties the three update channels together for one (owner, jobType)
// pair: it runs the push subscriber and the poller, funnels every update
// through the reconciler one at a time, and owns the manual-refresh
// affordance. All reconciler access goes through w.mu, which stands in for
// the single-threaded event loop of the original design.
type Watcher struct {
	api     *API
	jobType jobs.Type

	PollInterval   time.Duration
	FastInterval   time.Duration
	RefreshCeiling time.Duration

	// OnUpdate observes every accepted view change.
	OnUpdate func(view JobView)
	// OnComplete fires exactly once per completed job id.
	OnComplete func(view JobView)

	mu         sync.Mutex
	rec        *Reconciler
	pushDown   bool
	refreshing bool
	refreshSeq int
}

func NewWatcher(api *API, jobType jobs.Type) *Watcher {
	return &Watcher{
		api:            api,
		jobType:        jobType,
		PollInterval:   DefaultPollInterval,
		FastInterval:   FastPollInterval,
		RefreshCeiling: DefaultRefreshCeiling,
		rec:            NewReconciler(),
	}
}

// StartRequested resets the view ahead of a new run.
func (w *Watcher) StartRequested() {
	w.mu.Lock()
	w.rec.StartRequested()
	view := w.rec.View()
	w.mu.Unlock()
	w.notify(view, false)
}

// View returns the current reconciled state.
func (w *Watcher) View() JobView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rec.View()
}

// Refreshing reports whether the manual-refresh spinner is showing.
func (w *Watcher) Refreshing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refreshing
}

// Run drives both channels until the job reaches a terminal state or ctx
// is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	terminal := make(chan struct{}, 1)

	sub := NewSubscriber(w.api.baseURL, w.api.ownerID)
	sub.OnSnapshot = func(snap jobs.Snapshot) {
		w.apply(SourcePush, snap, terminal)
	}
	sub.OnTransport = func(up bool) {
		w.mu.Lock()
		w.pushDown = !up
		w.rec.SetReconnecting(!up)
		view := w.rec.View()
		w.mu.Unlock()
		w.notify(view, false)
	}

	go func() {
		_ = sub.Run(ctx)
	}()
	go w.pollLoop(ctx, terminal)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-terminal:
		return nil
	}
}

// pollLoop is the periodic catch-up channel. It stops once the job is
// terminal and tightens its interval while the push channel is down.
func (w *Watcher) pollLoop(ctx context.Context, terminal chan<- struct{}) {
	for {
		w.mu.Lock()
		interval := w.PollInterval
		if w.pushDown {
			interval = w.FastInterval
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		snap, err := w.api.Status(ctx, w.jobType)
		if err != nil {
			log.Debug("Poll failed", "error", err.Error())
			continue
		}
		if snap == nil {
			continue
		}
		w.apply(SourcePoll, *snap, terminal)

		w.mu.Lock()
		done := w.rec.View().Status.Terminal()
		w.mu.Unlock()
		if done {
			return
		}
	}
}

// ManualRefresh triggers one poll and shows a locally-owned spinner. The
// spinner clears when the poll settles or when the ceiling elapses,
// whichever happens first; the refresh itself never alters job state.
func (w *Watcher) ManualRefresh(ctx context.Context) {
	w.mu.Lock()
	w.refreshSeq++
	seq := w.refreshSeq
	w.refreshing = true
	w.mu.Unlock()

	clear := func() {
		w.mu.Lock()
		if w.refreshSeq == seq {
			w.refreshing = false
		}
		w.mu.Unlock()
	}

	go func() {
		defer clear()
		pollCtx, cancel := context.WithTimeout(ctx, w.RefreshCeiling)
		defer cancel()

		snap, err := w.api.Status(pollCtx, w.jobType)
		if err != nil || snap == nil {
			return
		}
		w.apply(SourceManual, *snap, nil)
	}()

	// The ceiling also bounds the spinner when the poll hangs.
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(w.RefreshCeiling):
		}
		clear()
	}()
}

func (w *Watcher) apply(src Source, snap jobs.Snapshot, terminal chan<- struct{}) {
	w.mu.Lock()
	applied := w.rec.Apply(src, snap)
	if !applied {
		w.mu.Unlock()
		return
	}
	view := w.rec.View()
	completed := w.rec.ConsumeCompletion()
	w.mu.Unlock()

	w.notify(view, completed)

	if view.Status.Terminal() && terminal != nil {
		select {
		case terminal <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) notify(view JobView, completed bool) {
	if w.OnUpdate != nil {
		w.OnUpdate(view)
	}
	if completed && w.OnComplete != nil {
		w.OnComplete(view)
	}
}
