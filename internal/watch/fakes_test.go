package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/hub"
	"github.com/hamed0406/flatwatch/internal/probe"
	"github.com/hamed0406/flatwatch/internal/repo/memory"
)

// --- fakes ---

type fakeProber struct {
	mu     sync.Mutex
	outs   []probe.Outcome // consumed in order; empty means NotFound
	delay  time.Duration
	calls  int
	params []domain.SearchParams
}

func (f *fakeProber) Search(ctx context.Context, params domain.SearchParams, headless bool) probe.Outcome {
	f.mu.Lock()
	f.calls++
	f.params = append(f.params, params)
	out := probe.Outcome{Result: probe.NotFound, Message: "no vacancies listed"}
	if len(f.outs) > 0 {
		out = f.outs[0]
		f.outs = f.outs[1:]
	}
	d := f.delay
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	return out
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProber) lastParams() domain.SearchParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.params) == 0 {
		return domain.SearchParams{}
	}
	return f.params[len(f.params)-1]
}

// stubbornProber ignores its context entirely.
type stubbornProber struct{ d time.Duration }

func (s *stubbornProber) Search(ctx context.Context, params domain.SearchParams, headless bool) probe.Outcome {
	time.Sleep(s.d)
	return probe.Outcome{Result: probe.NotFound, Message: "no vacancies listed"}
}

type panickyProber struct{}

func (panickyProber) Search(ctx context.Context, params domain.SearchParams, headless bool) probe.Outcome {
	panic("marker slice out of range")
}

type sentNotice struct {
	recipients  []string
	subject     string
	body        string
	artifactRef string
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	sends []sentNotice
}

func (f *fakeNotifier) Send(ctx context.Context, recipients []string, subject, body, artifactRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentNotice{recipients, subject, body, artifactRef})
	return f.err
}

func (f *fakeNotifier) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeNotifier) lastSend() sentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		return sentNotice{}
	}
	return f.sends[len(f.sends)-1]
}

type fakeSource struct {
	mu     sync.Mutex
	sched  domain.ScheduleConfig
	params domain.SearchParams
	err    error
}

func (f *fakeSource) WatchConfig() (domain.ScheduleConfig, domain.SearchParams, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sched, f.params, f.err
}

func (f *fakeSource) set(sched domain.ScheduleConfig, params domain.SearchParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sched = sched
	f.params = params
}

// flakyStore lets tests inject storage failures around a real memory store.
type flakyStore struct {
	*memory.Store
	appendErr error
	saveErr   error
}

func (f *flakyStore) Append(ctx context.Context, e domain.LogEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Store.Append(ctx, e)
}

func (f *flakyStore) SaveStatus(ctx context.Context, st domain.WatchStatus) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.SaveStatus(ctx, st)
}

// --- rig ---

type rig struct {
	store    *memory.Store
	prober   *fakeProber
	notifier *fakeNotifier
	hub      *hub.Hub
	state    *State
	pipe     *Pipeline
	source   *fakeSource
	sched    *Scheduler
}

func newRig(t *testing.T, outs ...probe.Outcome) *rig {
	t.Helper()
	r := &rig{
		store:    memory.New(),
		prober:   &fakeProber{outs: outs},
		notifier: &fakeNotifier{},
		hub:      hub.New(zap.NewNop()),
		state:    NewState(domain.WatchStatus{}),
	}
	r.pipe = NewPipeline(zap.NewNop(), r.state, r.prober, r.notifier,
		[]string{"me@example.com"}, r.store, r.store, r.hub, 5*time.Second)
	r.source = &fakeSource{
		sched: domain.ScheduleConfig{IntervalSeconds: 3600, Headless: true},
		params: domain.SearchParams{
			FormURL:         "http://portal.example/form",
			Fields:          map[string]string{"city": "leiden"},
			FoundMarkers:    []string{"available"},
			NotFoundMarkers: []string{"no results"},
		},
	}
	r.sched = NewScheduler(zap.NewNop(), r.state, r.source, r.pipe, r.store, r.store, r.hub)
	return r
}

// --- helpers ---

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// collectUntil reads events until stop matches one, so tests can wait for a
// cycle's terminal event instead of racing the publisher.
func collectUntil(t *testing.T, sub *hub.Subscription, timeout time.Duration, stop func(domain.Event) bool) []domain.Event {
	t.Helper()
	deadline := time.After(timeout)
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
			if stop(ev) {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out collecting events, got %d so far", len(out))
		}
	}
}

// drain empties everything already buffered on the subscription. Publishing
// is synchronous, so after a synchronous Execute the full cycle is buffered.
func drain(sub *hub.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(evs []domain.Event, t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
