package gamedto

import "time"

// GameResult is one finished attempt as handed to history recorders.
type GameResult struct {
	AttemptID   string
	GuestID     string
	SessionID   string
	MinigameID  string
	Won         bool
	Score       int
	Remaining   int
	ElapsedMs   int64
	AnswerCount int
	Offline     bool
	Submitted   bool
	SubmitError string
	StartedAt   time.Time
	FinishedAt  time.Time
}
