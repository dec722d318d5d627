package domain

import (
	"encoding/json"
	"time"
)

// State represents a game session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateLaunching  State = "launching"
	StatePlaying    State = "playing"
	StateSubmitting State = "submitting"
	StateFinished   State = "finished"
	StateError      State = "error"
)

var transitions = map[State][]State{
	StateIdle:       {StateLaunching},
	StateLaunching:  {StatePlaying, StateError},
	StatePlaying:    {StateSubmitting},
	StateSubmitting: {StateFinished},
}

// CanTransition reports whether the state machine allows s → to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Resettable reports whether reset() may be called from s.
func (s State) Resettable() bool {
	switch s {
	case StateIdle, StatePlaying, StateFinished, StateError:
		return true
	default:
		return false
	}
}

// Settled is true once a finalize has claimed the session.
func (s State) Settled() bool {
	return s == StateSubmitting || s == StateFinished
}

// GameSession is one launched attempt. It is only changed through its
// methods, which enforce the state machine and the score/answer rules.
type GameSession struct {
	sessionID string
	minigame  MinigameID
	state     State
	score     int
	won       bool
	startTime time.Time
	endTime   time.Time
	answers   []json.RawMessage
}

func NewGameSession(minigame MinigameID) *GameSession {
	return &GameSession{minigame: minigame, state: StateIdle}
}

func (g *GameSession) SessionID() string    { return g.sessionID }
func (g *GameSession) Minigame() MinigameID { return g.minigame }
func (g *GameSession) State() State         { return g.state }
func (g *GameSession) Score() int           { return g.score }
func (g *GameSession) Won() bool            { return g.won }
func (g *GameSession) StartTime() time.Time { return g.startTime }
func (g *GameSession) EndTime() time.Time   { return g.endTime }

// Answers returns a copy of the recorded answers in append order.
func (g *GameSession) Answers() []json.RawMessage {
	out := make([]json.RawMessage, len(g.answers))
	copy(out, g.answers)
	return out
}

func (g *GameSession) BeginLaunch() error {
	return g.move("launch", StateLaunching)
}

// Launched records the server-issued session id and starts play.
func (g *GameSession) Launched(sessionID string, at time.Time) error {
	if err := g.move("launched", StatePlaying); err != nil {
		return err
	}
	g.sessionID = sessionID
	g.startTime = at
	return nil
}

func (g *GameSession) Fail() error {
	return g.move("fail", StateError)
}

// AppendAnswers appends opaque answer payloads. Allowed while Playing and
// during the Submitting step of a finalize.
func (g *GameSession) AppendAnswers(payloads ...json.RawMessage) error {
	if g.state != StatePlaying && g.state != StateSubmitting {
		return invalid("record answer", g.state)
	}
	for _, p := range payloads {
		cp := make(json.RawMessage, len(p))
		copy(cp, p)
		g.answers = append(g.answers, cp)
	}
	return nil
}

func (g *GameSession) BeginSubmit() error {
	return g.move("finalize", StateSubmitting)
}

// Finish closes the attempt. A lost attempt always scores 0.
func (g *GameSession) Finish(won bool, score int, at time.Time) error {
	if err := g.move("finish", StateFinished); err != nil {
		return err
	}
	if at.Before(g.startTime) {
		at = g.startTime
	}
	g.endTime = at
	g.won = won
	if won {
		g.score = score
	} else {
		g.score = 0
	}
	return nil
}

// Elapsed is endTime - startTime once both are set.
func (g *GameSession) Elapsed() time.Duration {
	if g.startTime.IsZero() || g.endTime.IsZero() {
		return 0
	}
	return g.endTime.Sub(g.startTime)
}

func (g *GameSession) move(op string, to State) error {
	if !g.state.CanTransition(to) {
		return invalid(op, g.state)
	}
	g.state = to
	return nil
}

// SessionView is a detached copy of a GameSession for callers.
type SessionView struct {
	SessionID string            `json:"sessionId"`
	Minigame  MinigameID        `json:"minigameId"`
	State     State             `json:"state"`
	Score     int               `json:"score"`
	Won       bool              `json:"won"`
	StartTime time.Time         `json:"startTime,omitempty"`
	EndTime   time.Time         `json:"endTime,omitempty"`
	Answers   []json.RawMessage `json:"answers"`
}

func (g *GameSession) View() SessionView {
	return SessionView{
		SessionID: g.sessionID,
		Minigame:  g.minigame,
		State:     g.state,
		Score:     g.score,
		Won:       g.won,
		StartTime: g.startTime,
		EndTime:   g.endTime,
		Answers:   g.Answers(),
	}
}
