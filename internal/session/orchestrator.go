// Package session runs one minigame attempt at a time: identity, launch,
// countdown, answers, score and a single finalize.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/hpl-runner/internal/countdown"
	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/internal/scoring"
	"github.com/park285/hpl-runner/pkg/gamedto"
)

const (
	// OfflineSessionID is used when no backend is reachable.
	OfflineSessionID = "offline-session"
	DefaultMaxTime   = 180

	recordTimeout = 5 * time.Second
)

type Config struct {
	Minigame   domain.MinigameID
	MaxTime    int // seconds
	Offline    bool
	AutoSubmit bool
	Strategy   scoring.Strategy
}

type Option func(*Orchestrator)

func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

func WithEventSink(s EventSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// Snapshot is a detached view of the orchestrator.
type Snapshot struct {
	AttemptID string
	Session   domain.SessionView
	Timer     countdown.State
	Offline   bool
}

type Orchestrator struct {
	cfg      Config
	identity IdentityProvider
	client   ScoringClient
	clock    clockwork.Clock
	logger   *zap.Logger
	hooks    Hooks
	sink     EventSink
	recorder Recorder
	timer    *countdown.Timer

	mu        sync.Mutex
	session   *domain.GameSession // nil means Idle
	guest     *domain.GuestIdentity
	attemptID string
}

// New builds an orchestrator. identity and client may be nil only in
// offline mode.
func New(cfg Config, identity IdentityProvider, client ScoringClient, opts ...Option) *Orchestrator {
	if cfg.MaxTime <= 0 {
		cfg.MaxTime = DefaultMaxTime
	}
	if cfg.Strategy == nil {
		cfg.Strategy = scoring.Default()
	}
	o := &Orchestrator{
		cfg:      cfg,
		identity: identity,
		client:   client,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.timer = countdown.New(cfg.MaxTime, o.handleExpiry,
		countdown.WithClock(o.clock),
		countdown.WithOnTick(o.handleTick),
	)
	return o
}

func (o *Orchestrator) Config() Config { return o.cfg }

// Start launches a fresh attempt. Allowed only from Idle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.session != nil {
		st := o.session.State()
		o.mu.Unlock()
		return &domain.TransitionError{Op: "start", From: st}
	}
	sess := domain.NewGameSession(o.cfg.Minigame)
	_ = sess.BeginLaunch()
	o.session = sess
	o.guest = nil
	o.attemptID = uuid.NewString()
	view := sess.View()
	o.mu.Unlock()
	o.emit(gamedto.EventState, view, o.cfg.MaxTime)

	if o.cfg.Offline {
		o.mu.Lock()
		if o.session != sess {
			o.mu.Unlock()
			return domain.ErrSessionSuperseded
		}
		_ = sess.Launched(OfflineSessionID, o.clock.Now())
		o.timer.Start(o.cfg.MaxTime)
		view = sess.View()
		o.mu.Unlock()
		o.logger.Info("session_launch_offline", zap.String("minigame", o.cfg.Minigame.String()), zap.Int("max_time", o.cfg.MaxTime))
		o.emit(gamedto.EventState, view, o.cfg.MaxTime)
		return nil
	}

	if o.identity == nil || o.client == nil {
		return o.failLaunch(sess, fmt.Errorf("%w: no backend configured", domain.ErrLaunchFailure))
	}

	guest, err := o.identity.Ensure(ctx)
	if err == nil && guest == nil {
		err = domain.ErrIdentityMissing
	}
	if err != nil {
		if !errors.Is(err, domain.ErrIdentityMissing) {
			err = fmt.Errorf("%w: %w", domain.ErrIdentityMissing, err)
		}
		return o.failLaunch(sess, err)
	}

	o.mu.Lock()
	if o.session != sess {
		o.mu.Unlock()
		return domain.ErrSessionSuperseded
	}
	o.mu.Unlock()

	sessionID, err := o.client.Launch(ctx, guest.CollectionID, o.cfg.Minigame, guest.AccessToken)
	if err != nil {
		if !errors.Is(err, domain.ErrLaunchFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrLaunchFailure, err)
		}
		return o.failLaunch(sess, err)
	}

	o.mu.Lock()
	if o.session != sess {
		o.mu.Unlock()
		o.logger.Warn("session_launch_discarded", zap.String("session_id", sessionID))
		return domain.ErrSessionSuperseded
	}
	_ = sess.Launched(sessionID, o.clock.Now())
	o.guest = guest
	o.timer.Start(o.cfg.MaxTime)
	view = sess.View()
	o.mu.Unlock()

	o.logger.Info("session_launch",
		zap.String("session_id", sessionID),
		zap.String("guest_id", guest.GuestID),
		zap.String("minigame", o.cfg.Minigame.String()),
		zap.Int("max_time", o.cfg.MaxTime),
	)
	o.emit(gamedto.EventState, view, o.cfg.MaxTime)

	if err := o.identity.RecordSession(ctx, sessionID); err != nil {
		o.logger.Warn("identity_record_session_failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) failLaunch(sess *domain.GameSession, cause error) error {
	o.mu.Lock()
	if o.session != sess {
		o.mu.Unlock()
		o.logger.Warn("session_launch_failed_superseded", zap.String("minigame", o.cfg.Minigame.String()), zap.Error(cause))
		return domain.ErrSessionSuperseded
	}
	_ = sess.Fail()
	view := sess.View()
	o.mu.Unlock()
	o.logger.Warn("session_launch_failed", zap.String("minigame", o.cfg.Minigame.String()), zap.Error(cause))
	o.emit(gamedto.EventState, view, 0)
	return cause
}

// Finalize ends the attempt exactly once. Repeated calls after the first
// return nil without side effects. A failed submission still finishes the
// session and the error matches domain.ErrSubmissionFailure.
func (o *Orchestrator) Finalize(ctx context.Context, won bool, answers ...json.RawMessage) error {
	return o.finalize(ctx, nil, won, answers, "manual")
}

func (o *Orchestrator) finalize(ctx context.Context, target *domain.GameSession, won bool, answers []json.RawMessage, trigger string) error {
	o.mu.Lock()
	sess := o.session
	if target != nil && sess != target {
		o.mu.Unlock()
		return nil
	}
	if sess == nil {
		o.mu.Unlock()
		return &domain.TransitionError{Op: "finalize", From: domain.StateIdle}
	}
	st := sess.State()
	if st.Settled() {
		o.mu.Unlock()
		o.logger.Debug("session_finalize_duplicate", zap.String("session_id", sess.SessionID()), zap.String("trigger", trigger))
		return nil
	}
	if st != domain.StatePlaying {
		o.mu.Unlock()
		return &domain.TransitionError{Op: "finalize", From: st}
	}

	o.timer.Stop()
	remaining := o.timer.Remaining()
	_ = sess.BeginSubmit()
	_ = sess.AppendAnswers(answers...)

	score := 0
	if won {
		score = scoring.Clamp(o.cfg.Strategy(remaining, o.cfg.MaxTime), scoring.Max)
	}
	elapsedMs := int64(o.cfg.MaxTime-remaining) * 1000
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	submit := o.cfg.AutoSubmit && !o.cfg.Offline && o.client != nil
	sessionID := sess.SessionID()
	sent := sess.Answers()
	var token, guestID string
	if o.guest != nil {
		token, guestID = o.guest.AccessToken, o.guest.GuestID
	}
	attemptID := o.attemptID
	view := sess.View()
	o.mu.Unlock()
	o.emit(gamedto.EventState, view, remaining)

	var ack json.RawMessage
	var submitErr error
	if submit {
		ack, submitErr = o.client.SubmitScore(ctx, sessionID, score, sent, elapsedMs, token)
		if submitErr != nil && !errors.Is(submitErr, domain.ErrSubmissionFailure) {
			submitErr = fmt.Errorf("%w: %w", domain.ErrSubmissionFailure, submitErr)
		}
	}

	o.mu.Lock()
	if o.session != sess {
		o.mu.Unlock()
		o.logger.Warn("session_submit_discarded", zap.String("session_id", sessionID))
		return domain.ErrSessionSuperseded
	}
	_ = sess.Finish(won, score, o.clock.Now())
	view = sess.View()
	o.mu.Unlock()

	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("trigger", trigger),
		zap.Bool("won", won),
		zap.Int("score", score),
		zap.Int("remaining", remaining),
		zap.Int64("elapsed_ms", elapsedMs),
		zap.Int("answers", len(sent)),
		zap.Bool("submitted", submit && submitErr == nil),
	}
	if submitErr != nil {
		o.logger.Warn("session_submit_failed", append(fields, zap.Error(submitErr))...)
	} else {
		o.logger.Info("session_finalize", fields...)
	}

	out := Outcome{
		AttemptID: attemptID,
		SessionID: sessionID,
		Minigame:  o.cfg.Minigame,
		Won:       won,
		Score:     score,
		Remaining: remaining,
		ElapsedMs: elapsedMs,
		Answers:   sent,
		Ack:       ack,
		SubmitErr: submitErr,
	}
	if won {
		if o.hooks.OnWin != nil {
			o.hooks.OnWin(out)
		}
	} else if o.hooks.OnLose != nil {
		o.hooks.OnLose(out)
	}
	if submit && submitErr == nil && o.hooks.OnSubmitted != nil {
		o.hooks.OnSubmitted(out)
	}
	o.emit(gamedto.EventOutcome, view, remaining)
	o.record(ctx, out, view, guestID, submit)
	return submitErr
}

func (o *Orchestrator) record(ctx context.Context, out Outcome, view domain.SessionView, guestID string, submit bool) {
	if o.recorder == nil {
		return
	}
	res := gamedto.GameResult{
		AttemptID:   out.AttemptID,
		GuestID:     guestID,
		SessionID:   out.SessionID,
		MinigameID:  out.Minigame.String(),
		Won:         out.Won,
		Score:       out.Score,
		Remaining:   out.Remaining,
		ElapsedMs:   out.ElapsedMs,
		AnswerCount: len(out.Answers),
		Offline:     o.cfg.Offline,
		Submitted:   submit && out.SubmitErr == nil,
		StartedAt:   view.StartTime,
		FinishedAt:  view.EndTime,
	}
	if out.SubmitErr != nil {
		res.SubmitError = out.SubmitErr.Error()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.recorder.Record(rctx, res); err != nil {
		o.logger.Warn("history_record_failed", zap.String("attempt_id", res.AttemptID), zap.Error(err))
	}
}

// Reset stops the timer and returns to Idle. The identity is untouched.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.session != nil {
		if st := o.session.State(); !st.Resettable() {
			o.mu.Unlock()
			return &domain.TransitionError{Op: "reset", From: st}
		}
	}
	o.discardLocked()
	o.mu.Unlock()
	o.emit(gamedto.EventState, o.idleView(), 0)
	return nil
}

// Retry is Reset followed by Start.
func (o *Orchestrator) Retry(ctx context.Context) error {
	if err := o.Reset(); err != nil {
		return err
	}
	return o.Start(ctx)
}

// Close abandons the current attempt from any state. Responses still in
// flight for it are discarded when they arrive.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.discardLocked()
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) discardLocked() {
	o.timer.Stop()
	if o.session != nil {
		o.logger.Info("session_discard", zap.String("session_id", o.session.SessionID()), zap.String("state", string(o.session.State())))
	}
	o.session = nil
	o.guest = nil
	o.attemptID = ""
}

// RecordAnswer appends one in-game answer while Playing.
func (o *Orchestrator) RecordAnswer(payload json.RawMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return &domain.TransitionError{Op: "record answer", From: domain.StateIdle}
	}
	if st := o.session.State(); st != domain.StatePlaying {
		return &domain.TransitionError{Op: "record answer", From: st}
	}
	return o.session.AppendAnswers(payload)
}

func (o *Orchestrator) State() domain.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return domain.StateIdle
	}
	return o.session.State()
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{AttemptID: o.attemptID, Timer: o.timer.Snapshot(), Offline: o.cfg.Offline}
	if o.session == nil {
		s.Session = o.idleView()
	} else {
		s.Session = o.session.View()
	}
	return s
}

func (o *Orchestrator) idleView() domain.SessionView {
	return domain.SessionView{Minigame: o.cfg.Minigame, State: domain.StateIdle, Answers: []json.RawMessage{}}
}

// handleExpiry runs on the timer goroutine. An expiry that lost the race to
// a stop or a newer Start is ignored.
func (o *Orchestrator) handleExpiry() {
	o.mu.Lock()
	sess := o.session
	current := sess != nil && sess.State() == domain.StatePlaying && o.timer.Snapshot().Expired
	o.mu.Unlock()
	if !current {
		return
	}
	if err := o.finalize(context.Background(), sess, false, nil, "timer"); err != nil {
		o.logger.Warn("session_expiry_finalize", zap.Error(err))
	}
}

func (o *Orchestrator) handleTick(remaining int) {
	if o.sink != nil {
		o.mu.Lock()
		sess := o.session
		var view domain.SessionView
		if sess != nil {
			view = sess.View()
		}
		o.mu.Unlock()
		if sess != nil {
			o.emit(gamedto.EventTick, view, remaining)
		}
	}
	if o.hooks.OnTick != nil {
		o.hooks.OnTick(remaining)
	}
}

func (o *Orchestrator) emit(typ gamedto.EventType, v domain.SessionView, remaining int) {
	if o.sink == nil {
		return
	}
	o.sink.Publish(gamedto.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		SessionID:  v.SessionID,
		MinigameID: v.Minigame.String(),
		State:      string(v.State),
		Remaining:  remaining,
		Score:      v.Score,
		Won:        v.Won,
		At:         o.clock.Now(),
	})
}
