package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/pkg/gamedto"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// callLog records the order of external calls across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeIdentity struct {
	log       *callLog
	mu        sync.Mutex
	ensureErr error
	recorded  []string
}

func (f *fakeIdentity) Ensure(context.Context) (*domain.GuestIdentity, error) {
	f.log.add("ensure")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return &domain.GuestIdentity{GuestID: "g1", AccessToken: "tok", ExpiresAt: epoch.Add(time.Hour), CollectionID: "col-1"}, nil
}

func (f *fakeIdentity) RecordSession(_ context.Context, id string) error {
	f.mu.Lock()
	f.recorded = append(f.recorded, id)
	f.mu.Unlock()
	return nil
}

type submitCall struct {
	SessionID string
	Score     int
	Answers   []json.RawMessage
	ElapsedMs int64
	Token     string
}

type fakeClient struct {
	log *callLog

	mu        sync.Mutex
	launches  int
	submits   []submitCall
	launchErr error
	submitErr error

	// optional gates: the call signals entered and waits for release
	launchEntered chan struct{}
	launchRelease chan struct{}
	submitEntered chan struct{}
	submitRelease chan struct{}
}

func (f *fakeClient) Launch(_ context.Context, collectionID string, minigame domain.MinigameID, token string) (string, error) {
	f.log.add("launch")
	f.mu.Lock()
	f.launches++
	n := f.launches
	err := f.launchErr
	f.mu.Unlock()
	if f.launchEntered != nil {
		f.launchEntered <- struct{}{}
		<-f.launchRelease
	}
	if err != nil {
		return "", err
	}
	if collectionID != "col-1" || token != "tok" {
		return "", fmt.Errorf("unexpected launch args %q %q", collectionID, token)
	}
	return fmt.Sprintf("s-%d", n), nil
}

func (f *fakeClient) SubmitScore(_ context.Context, sessionID string, score int, answers []json.RawMessage, elapsedMs int64, token string) (json.RawMessage, error) {
	f.log.add("submit")
	f.mu.Lock()
	f.submits = append(f.submits, submitCall{sessionID, score, answers, elapsedMs, token})
	err := f.submitErr
	f.mu.Unlock()
	if f.submitEntered != nil {
		f.submitEntered <- struct{}{}
		<-f.submitRelease
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeClient) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func (f *fakeClient) submitCalls() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.submits...)
}

type memSink struct {
	mu     sync.Mutex
	events []gamedto.Event
}

func (s *memSink) Publish(ev gamedto.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *memSink) ofType(t gamedto.EventType) []gamedto.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gamedto.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memRecorder struct {
	mu      sync.Mutex
	results []gamedto.GameResult
}

func (r *memRecorder) Record(_ context.Context, res gamedto.GameResult) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	return nil
}

type rig struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	log      *callLog
	identity *fakeIdentity
	client   *fakeClient
	sink     *memSink
	recorder *memRecorder
	orch     *Orchestrator

	ticks     chan int
	wins      chan Outcome
	losses    chan Outcome
	submitted chan Outcome
}

func newRig(t *testing.T, cfg Config, opts ...Option) *rig {
	t.Helper()
	log := &callLog{}
	r := &rig{
		t:         t,
		clock:     clockwork.NewFakeClockAt(epoch),
		log:       log,
		identity:  &fakeIdentity{log: log},
		client:    &fakeClient{log: log},
		sink:      &memSink{},
		recorder:  &memRecorder{},
		ticks:     make(chan int, 1024),
		wins:      make(chan Outcome, 16),
		losses:    make(chan Outcome, 16),
		submitted: make(chan Outcome, 16),
	}
	if cfg.Minigame == "" {
		cfg.Minigame = domain.MinigameMemory
	}
	opts = append([]Option{
		WithClock(r.clock),
		WithEventSink(r.sink),
		WithRecorder(r.recorder),
		WithHooks(Hooks{
			OnWin:       func(o Outcome) { r.wins <- o },
			OnLose:      func(o Outcome) { r.losses <- o },
			OnSubmitted: func(o Outcome) { r.submitted <- o },
			OnTick:      func(rem int) { r.ticks <- rem },
		}),
	}, opts...)
	r.orch = New(cfg, r.identity, r.client, opts...)
	t.Cleanup(func() { _ = r.orch.Close() })
	return r
}

// step advances the fake clock one second and waits for the tick.
func (r *rig) step() int {
	r.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.clock.BlockUntilContext(ctx, 1); err != nil {
		r.t.Fatalf("countdown not running: %v", err)
	}
	r.clock.Advance(time.Second)
	select {
	case rem := <-r.ticks:
		return rem
	case <-time.After(2 * time.Second):
		r.t.Fatalf("tick not observed")
	}
	return -1
}

func (r *rig) steps(n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		r.step()
	}
}

func waitOutcome(t *testing.T, ch <-chan Outcome, what string) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("%s hook not fired", what)
	}
	return Outcome{}
}

func expectQuiet(t *testing.T, ch <-chan Outcome, what string) {
	t.Helper()
	select {
	case o := <-ch:
		t.Fatalf("unexpected %s hook: %+v", what, o)
	case <-time.After(30 * time.Millisecond):
	}
}
