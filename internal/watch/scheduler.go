package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/hub"
	"github.com/hamed0406/flatwatch/internal/repo"
)

// ConfigSource yields the saved watch settings. The scheduler pulls a fresh
// copy on every start and every manual run, so edits apply without a
// restart. Validation (interval floor, form URL) is the source's job; the
// scheduler trusts what it gets.
type ConfigSource interface {
	WatchConfig() (domain.ScheduleConfig, domain.SearchParams, error)
}

// backfillLimit is how many recent log entries a new subscriber receives
// ahead of live events.
const backfillLimit = 50

// Scheduler owns the run/stop state machine and the interval timer. State
// transitions serialize behind one mutex; the cycles themselves serialize
// behind the pipeline's flight lock.
type Scheduler struct {
	log      *zap.Logger
	source   ConfigSource
	pipeline *Pipeline
	state    *State
	statuses repo.StatusStore
	logs     repo.LogStore
	events   *hub.Hub

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewScheduler(
	log *zap.Logger,
	state *State,
	source ConfigSource,
	pipeline *Pipeline,
	logs repo.LogStore,
	statuses repo.StatusStore,
	events *hub.Hub,
) *Scheduler {
	s := &Scheduler{
		log:      log,
		source:   source,
		pipeline: pipeline,
		state:    state,
		statuses: statuses,
		logs:     logs,
		events:   events,
	}
	pipeline.disarm = s.disarm
	return s
}

// Start arms the watch: one immediate check, then one per interval. It is
// idempotent; starting a running watch logs and returns nil. A config error
// leaves the watch idle and is the caller's to surface.
func (s *Scheduler) Start(ctx context.Context) error {
	sched, params, err := s.source.WatchConfig()
	if err != nil {
		return fmt.Errorf("watch start: %w", err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Info("watch_already_running")
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	st := s.state.Update(func(w *domain.WatchStatus) { w.Running = true })
	s.mu.Unlock()

	s.persist(ctx, st)
	s.events.Publish(domain.StatusEvent(st))
	s.log.Info("watch_started",
		zap.Int("interval_seconds", sched.IntervalSeconds),
		zap.Bool("headless", sched.Headless))

	go s.loop(loopCtx, sched, params)
	return nil
}

// Stop disarms the timer and records the idle status. Idempotent and never
// failing; a cycle already in flight finishes under its own timeout.
func (s *Scheduler) Stop(ctx context.Context) {
	s.disarm()
	st := s.state.Snapshot()
	s.persist(ctx, st)
	s.events.Publish(domain.StatusEvent(st))
	s.log.Info("watch_stopped")
}

// Halt disarms the timer without touching the persisted status, so a
// restarted process can resume where it left off. Use Stop for a
// caller-visible stop.
func (s *Scheduler) Halt() {
	s.disarm()
	s.log.Info("watch_halted")
}

// disarm cancels the timer loop and flips the status without persisting or
// broadcasting. The pipeline's auto-stop path relies on that: its own final
// status update is the only one the cycle emits.
func (s *Scheduler) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	s.state.Update(func(w *domain.WatchStatus) { w.Running = false })
}

func (s *Scheduler) loop(ctx context.Context, sched domain.ScheduleConfig, params domain.SearchParams) {
	t := time.NewTicker(sched.Interval())
	defer t.Stop()

	// immediate first check, unless a stop already won the race
	if ctx.Err() == nil {
		s.tick(sched, params)
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("watch_loop_stopped")
			return
		case <-t.C:
			// A fire can be pending alongside the cancel, and select picks
			// arbitrarily. Without this check a stopped watch could run one
			// more cycle and deliver a second notice.
			if ctx.Err() != nil {
				s.log.Info("watch_loop_stopped")
				return
			}
			s.tick(sched, params)
		}
	}
}

// tick runs one scheduled cycle. The cycle gets a fresh context: stopping
// the watch only disarms future ticks, it never cancels a probe that is
// already on the wire. A cycle still in flight makes this tick a no-op.
func (s *Scheduler) tick(sched domain.ScheduleConfig, params domain.SearchParams) {
	if err := s.pipeline.Execute(context.Background(), sched, params); err != nil {
		if errors.Is(err, ErrCheckInFlight) {
			s.log.Info("check_skipped_busy")
			return
		}
		s.log.Warn("check_error", zap.Error(err))
	}
}

// RunOnce executes a single cycle with the saved configuration, without
// touching the run state or the timer. Callers get ErrCheckInFlight when a
// cycle is already running.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	sched, params, err := s.source.WatchConfig()
	if err != nil {
		return fmt.Errorf("run once: %w", err)
	}
	return s.pipeline.Execute(ctx, sched, params)
}

// CheckAdhoc runs one cycle against caller-supplied parameters without
// saving them. It shares the flight lock with every other cycle.
func (s *Scheduler) CheckAdhoc(ctx context.Context, sched domain.ScheduleConfig, params domain.SearchParams) error {
	return s.pipeline.Execute(ctx, sched, params)
}

// Status returns a consistent snapshot of the watch state.
func (s *Scheduler) Status() domain.WatchStatus { return s.state.Snapshot() }

// Running reports whether the timer loop is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Logs returns the newest retained entries, up to limit.
func (s *Scheduler) Logs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	return s.logs.List(ctx, limit)
}

// ClearLogs wipes the check history.
func (s *Scheduler) ClearLogs(ctx context.Context) error {
	return s.logs.Clear(ctx)
}

// Subscribe attaches a live event receiver. The subscriber first gets a
// status snapshot and the most recent log entries (oldest first), then live
// events, so a late joiner renders a consistent view.
func (s *Scheduler) Subscribe(ctx context.Context) *hub.Subscription {
	prelude := []domain.Event{domain.StatusEvent(s.state.Snapshot())}
	entries, err := s.logs.List(ctx, backfillLimit)
	if err != nil {
		s.log.Warn("backfill_error", zap.Error(err))
	} else {
		for i := len(entries) - 1; i >= 0; i-- { // List is newest-first
			prelude = append(prelude, domain.LogEvent(entries[i]))
		}
	}
	return s.events.Subscribe(prelude...)
}

// Unsubscribe detaches a receiver obtained from Subscribe.
func (s *Scheduler) Unsubscribe(sub *hub.Subscription) {
	s.events.Unsubscribe(sub)
}

func (s *Scheduler) persist(ctx context.Context, st domain.WatchStatus) {
	if err := s.statuses.SaveStatus(ctx, st); err != nil {
		s.log.Warn("status_persist_error", zap.Error(err))
	}
}
