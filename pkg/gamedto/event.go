package gamedto

import "time"

type EventType string

const (
	EventState   EventType = "state"
	EventTick    EventType = "tick"
	EventOutcome EventType = "outcome"
)

// Event is the wire shape pushed to the session feed.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	MinigameID string    `json:"minigame_id"`
	State      string    `json:"state"`
	Remaining  int       `json:"remaining"`
	Score      int       `json:"score"`
	Won        bool      `json:"won"`
	At         time.Time `json:"at"`
}
