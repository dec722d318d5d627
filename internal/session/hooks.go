package session

import (
	"context"
	"encoding/json"

	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/pkg/gamedto"
)

// IdentityProvider supplies the guest identity used for network calls.
type IdentityProvider interface {
	Ensure(ctx context.Context) (*domain.GuestIdentity, error)
	RecordSession(ctx context.Context, sessionID string) error
}

// ScoringClient is the remote launch/submit contract.
type ScoringClient interface {
	Launch(ctx context.Context, collectionID string, minigame domain.MinigameID, token string) (string, error)
	SubmitScore(ctx context.Context, sessionID string, score int, answers []json.RawMessage, elapsedMs int64, token string) (json.RawMessage, error)
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(ev gamedto.Event)
}

// Recorder stores finished attempts.
type Recorder interface {
	Record(ctx context.Context, r gamedto.GameResult) error
}

// Outcome describes a finalized attempt to hooks.
type Outcome struct {
	AttemptID string
	SessionID string
	Minigame  domain.MinigameID
	Won       bool
	Score     int
	Remaining int
	ElapsedMs int64
	Answers   []json.RawMessage
	Ack       json.RawMessage
	SubmitErr error
}

// Hooks are invoked outside the orchestrator lock. OnWin/OnLose fire once
// per finalize; OnSubmitted only after a successful submission.
type Hooks struct {
	OnWin       func(Outcome)
	OnLose      func(Outcome)
	OnSubmitted func(Outcome)
	OnTick      func(remaining int)
}
