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
	"github.com/hamed0406/flatwatch/internal/notify"
	"github.com/hamed0406/flatwatch/internal/probe"
	"github.com/hamed0406/flatwatch/internal/repo"
)

// ErrCheckInFlight is returned when a cycle is requested while another holds
// the flight lock. Requests are rejected, never queued; a timer tick that
// loses the race is dropped.
var ErrCheckInFlight = errors.New("a check is already in flight")

// DefaultCheckTimeout caps one full cycle, probe and delivery included, so a
// hung collaborator cannot hold the flight lock forever.
const DefaultCheckTimeout = 90 * time.Second

// Pipeline executes one complete check cycle: probe the form, record the
// outcome, notify on a vacancy, disarm the watch once a notice is actually
// delivered. Collaborator failures never escape Execute; they become events
// and log entries.
type Pipeline struct {
	log        *zap.Logger
	state      *State
	prober     probe.Prober
	notifier   notify.Notifier
	recipients []string
	logs       repo.LogStore
	statuses   repo.StatusStore
	events     *hub.Hub
	timeout    time.Duration

	// disarm quietly stops the scheduler after a delivered notice; bound by
	// NewScheduler. The cycle's own final status update covers the broadcast.
	disarm func()

	flight sync.Mutex // held for the whole cycle
}

func NewPipeline(
	log *zap.Logger,
	state *State,
	prober probe.Prober,
	notifier notify.Notifier,
	recipients []string,
	logs repo.LogStore,
	statuses repo.StatusStore,
	events *hub.Hub,
	timeout time.Duration,
) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Pipeline{
		log:        log,
		state:      state,
		prober:     prober,
		notifier:   notifier,
		recipients: recipients,
		logs:       logs,
		statuses:   statuses,
		events:     events,
		timeout:    timeout,
		disarm:     func() {},
	}
}

// Execute runs one cycle under the single-flight lock.
func (p *Pipeline) Execute(ctx context.Context, sched domain.ScheduleConfig, params domain.SearchParams) error {
	if !p.flight.TryLock() {
		return ErrCheckInFlight
	}
	defer p.flight.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.runCycle(ctx, sched, params)
	return nil
}

func (p *Pipeline) runCycle(ctx context.Context, sched domain.ScheduleConfig, params domain.SearchParams) {
	p.events.Publish(domain.ProgressEvent(domain.StepStart, "check started"))
	p.events.Publish(domain.ProgressEvent(domain.StepSearching, "submitting vacancy search"))

	out := p.search(ctx, params, sched.Headless)

	now := time.Now().UTC()
	p.state.Update(func(st *domain.WatchStatus) {
		st.LastCheckTime = &now
		st.LastResult = out.Message
		st.TotalChecks++
	})

	p.appendLog(ctx, domain.LogEntry{
		Timestamp:   now,
		Message:     out.Message,
		Found:       out.Result == probe.Found,
		ArtifactRef: out.ArtifactRef,
	})

	switch out.Result {
	case probe.Failed:
		p.log.Warn("check_failed", zap.Error(out.Err))
		p.events.Publish(domain.NotificationEvent(domain.NotifyError, out.Message))
	case probe.Found:
		p.events.Publish(domain.ProgressEvent(domain.StepFound, out.Message))
		p.events.Publish(domain.NotificationEvent(domain.NotifySuccess, "vacancy found, sending notification"))
		p.deliver(ctx, out)
	case probe.NotFound:
		// the appended entry is the whole story
	}

	// Exactly one status update per cycle, after everything else settled.
	final := p.state.Snapshot()
	if err := p.statuses.SaveStatus(ctx, final); err != nil {
		p.log.Warn("status_persist_error", zap.Error(err))
	}
	p.events.Publish(domain.StatusEvent(final))

	if out.Result == probe.Failed {
		p.events.Publish(domain.ProgressEvent(domain.StepError, out.Message))
	} else {
		p.events.Publish(domain.ProgressEvent(domain.StepComplete, "check complete"))
	}
	p.log.Info("check_complete",
		zap.String("result", out.Result.String()),
		zap.Uint64("total_checks", final.TotalChecks),
		zap.Bool("running", final.Running))
}

// search invokes the prober in a goroutine so the configured timeout is a
// hard ceiling even against a prober that ignores its context; the abandoned
// goroutine finishes into a buffered channel. A panicking prober becomes a
// failed outcome rather than a dead timer loop.
func (p *Pipeline) search(ctx context.Context, params domain.SearchParams, headless bool) probe.Outcome {
	done := make(chan probe.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probe.Outcome{
					Result:  probe.Failed,
					Message: "probe panicked",
					Err:     fmt.Errorf("probe panic: %v", r),
				}
			}
		}()
		done <- p.prober.Search(ctx, params, headless)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return probe.Outcome{Result: probe.Failed, Message: "check timed out", Err: ctx.Err()}
	}
}

func (p *Pipeline) deliver(ctx context.Context, out probe.Outcome) {
	subject := "Vacancy found"
	body := out.Message
	if out.ArtifactRef != "" {
		body += "\n\nEvidence: " + out.ArtifactRef
	}

	err := p.notifier.Send(ctx, p.recipients, subject, body, out.ArtifactRef)
	now := time.Now().UTC()
	if err != nil {
		// Nothing was delivered, so the watch keeps running and the next
		// cycle gets another chance.
		p.log.Warn("delivery_failed", zap.Error(err))
		msg := fmt.Sprintf("notification delivery failed: %v", err)
		p.appendLog(ctx, domain.LogEntry{
			Timestamp:   now,
			Message:     msg,
			Found:       true,
			ArtifactRef: out.ArtifactRef,
		})
		p.events.Publish(domain.NotificationEvent(domain.NotifyError, msg))
		p.state.Update(func(st *domain.WatchStatus) {
			st.LastResult = "vacancy found, " + msg
		})
		return
	}

	p.log.Info("notification_delivered", zap.Int("recipients", len(p.recipients)))
	p.appendLog(ctx, domain.LogEntry{
		Timestamp:   now,
		Message:     fmt.Sprintf("notification delivered to %d recipient(s)", len(p.recipients)),
		Found:       true,
		ArtifactRef: out.ArtifactRef,
	})
	p.state.Update(func(st *domain.WatchStatus) {
		st.LastResult = "vacancy found, notification delivered; watch stopped"
	})
	p.disarm()
}

// appendLog stores the entry and announces it. A storage failure is logged
// and absorbed: the in-memory state stays authoritative and subscribers
// still see the entry.
func (p *Pipeline) appendLog(ctx context.Context, e domain.LogEntry) {
	if err := p.logs.Append(ctx, e); err != nil {
		p.log.Warn("log_append_error", zap.Error(err))
	}
	p.events.Publish(domain.LogEvent(e))
}
