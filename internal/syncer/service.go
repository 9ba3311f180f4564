package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c1767673917/products-b-test-sub004/internal/transform"
)

// DefaultRunTimeout bounds one full run end to end.
var DefaultRunTimeout = 30 * time.Minute

// runRetention is how long a finished run stays pollable in memory.
var runRetention = 30 * time.Minute

// Options tunes a Service.
type Options struct {
	// ImageWorkers bounds parallel image resolutions (default 5).
	ImageWorkers int
	// RunTimeout is the per-run deadline.
	RunTimeout time.Duration
	// Archiver, when set, receives finished run reports.
	Archiver RunArchiver
}

// Service runs synchronization and exposes run status. One Service owns
// the single-run gate; create exactly one per process.
type Service struct {
	src         SourceClient
	transformer *transform.Transformer
	resolver    ImageResolver
	store       ProductStore
	archiver    RunArchiver

	runTimeout time.Duration
	runGate    *Limiter
	workers    *Limiter

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// activeRun is the in-memory state of one run.
type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	report Report

	listenerMu sync.Mutex
	listeners  []chan Report
	closed     bool
}

// NewService wires a synchronizer.
func NewService(src SourceClient, tr *transform.Transformer, resolver ImageResolver, store ProductStore, opts Options) *Service {
	workers := opts.ImageWorkers
	if workers <= 0 {
		workers = DefaultImageWorkers
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	return &Service{
		src:         src,
		transformer: tr,
		resolver:    resolver,
		store:       store,
		archiver:    opts.Archiver,
		runTimeout:  timeout,
		runGate:     NewLimiter(1),
		workers:     NewLimiter(workers),
	}
}

// StartSync begins an asynchronous run and returns its id immediately.
// Returns ErrRunBusy while another run is active.
func (s *Service) StartSync(_ context.Context, mode Mode) (string, error) {
	if mode == "" {
		mode = ModeFull
	}

	if !s.runGate.TryAcquire() {
		return "", ErrRunBusy
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)

	run := &activeRun{
		id:     runID,
		cancel: cancel,
		done:   make(chan struct{}),
		report: Report{
			RunID:     runID,
			Mode:      mode,
			Phase:     PhasePreparing,
			StartedAt: time.Now(),
			Errors:    []RecordError{},
		},
	}

	s.mu.Lock()
	if s.runs == nil {
		s.runs = make(map[string]*activeRun)
	}
	s.runs[runID] = run
	s.mu.Unlock()

	go func() {
		defer s.runGate.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in sync run", "run_id", runID, "panic", r)
				run.finish(PhaseFailed, fmt.Sprintf("internal error: %v", r))
			}
			run.closeListeners()
			close(run.done)
			s.archive(run)
			s.cleanup(runID, runRetention)
		}()
		s.execute(runCtx, run)
	}()

	slog.Info("sync run started", "run_id", runID, "mode", string(mode))
	return runID, nil
}

// GetRunStatus returns a snapshot of a run's report without blocking.
func (s *Service) GetRunStatus(runID string) (Report, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return Report{}, ErrRunNotFound
	}
	return run.snapshot(), nil
}

// WaitForRun blocks until the run reaches a terminal phase and returns the
// final report.
func (s *Service) WaitForRun(runID string) (Report, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return Report{}, ErrRunNotFound
	}
	<-run.done
	return run.snapshot(), nil
}

// CancelRun requests cooperative cancellation: no new image work is
// spawned, in-flight work drains, and the run ends in PhaseCancelled.
func (s *Service) CancelRun(runID string) error {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	run.cancel()
	return nil
}

// Drain blocks until in-flight image resolutions release their worker
// slots or ctx expires. Called during graceful shutdown so uploads are
// not cut off mid-write.
func (s *Service) Drain(ctx context.Context) error {
	if active := s.workers.ActiveCount(); active > 0 {
		slog.Info("waiting for image workers to drain",
			"active", active,
			"max", s.workers.MaxConcurrent(),
		)
	}
	return s.workers.WaitForDrain(ctx)
}

// SubscribeProgress returns a channel receiving report snapshots as the
// run progresses. The channel closes when the run finishes.
func (s *Service) SubscribeProgress(runID string) (<-chan Report, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	ch := make(chan Report, 10)
	run.listenerMu.Lock()
	if run.closed {
		run.listenerMu.Unlock()
		// Run already finished: deliver the final report and close.
		ch <- run.snapshot()
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	select {
	case ch <- run.snapshot():
	default:
	}
	run.listenerMu.Unlock()

	return ch, nil
}

// archive hands a finished report to the archiver, if configured.
func (s *Service) archive(run *activeRun) {
	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.archiver.ArchiveRun(ctx, run.snapshot()); err != nil {
		slog.Warn("archiving run report failed", "run_id", run.id, "error", err)
	}
}

// cleanup drops the run from memory after the retention delay so status
// remains pollable for a while after completion.
func (s *Service) cleanup(runID string, after time.Duration) {
	time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// snapshot returns a copy of the report safe to hand out.
func (r *activeRun) snapshot() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep := r.report
	rep.Errors = append([]RecordError(nil), r.report.Errors...)
	return rep
}

// update applies fn to the report under lock and notifies listeners.
func (r *activeRun) update(fn func(*Report)) {
	r.mu.Lock()
	fn(&r.report)
	r.mu.Unlock()
	r.notify()
}

// setPhase transitions the run and logs it.
func (r *activeRun) setPhase(p Phase) {
	r.update(func(rep *Report) { rep.Phase = p })
	slog.Info("sync run phase", "run_id", r.id, "phase", string(p))
}

// finish marks the run terminal. errMsg is empty unless p is PhaseFailed.
func (r *activeRun) finish(p Phase, errMsg string) {
	now := time.Now()
	r.update(func(rep *Report) {
		if rep.Phase.Terminal() {
			return
		}
		rep.Phase = p
		rep.Error = errMsg
		rep.FinishedAt = &now
	})
}

// notify pushes the current snapshot to all listeners, dropping for slow
// consumers rather than blocking the run.
func (r *activeRun) notify() {
	snap := r.snapshot()
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	if r.closed {
		return
	}
	for _, ch := range r.listeners {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (r *activeRun) closeListeners() {
	// Deliver the terminal snapshot before closing.
	snap := r.snapshot()
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.listeners {
		select {
		case ch <- snap:
		default:
		}
		close(ch)
	}
	r.listeners = nil
}
