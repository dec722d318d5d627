package domain

import "strings"

type MinigameID string

const (
	MinigameAutomationSpotter MinigameID = "automation-spotter"
	MinigameDragAndDrop       MinigameID = "drag-and-drop"
	MinigameMemory            MinigameID = "memory-game"
	MinigameConnections       MinigameID = "connections-game"
	MinigameScrambles         MinigameID = "scrambles-game"
	MinigameMatrix            MinigameID = "matrix-game"
)

var minigameKeys = map[string]MinigameID{
	"automationspotter": MinigameAutomationSpotter,
	"draganddrop":       MinigameDragAndDrop,
	"memory":            MinigameMemory,
	"connections":       MinigameConnections,
	"scrambles":         MinigameScrambles,
	"matrix":            MinigameMatrix,
}

// AllMinigames lists the known minigames in their default play order.
func AllMinigames() []MinigameID {
	return []MinigameID{
		MinigameAutomationSpotter,
		MinigameDragAndDrop,
		MinigameMemory,
		MinigameConnections,
		MinigameScrambles,
		MinigameMatrix,
	}
}

// ParseMinigameID accepts either the wire id ("memory-game") or the short
// key used by the frontend ("memory", "dragAndDrop").
func ParseMinigameID(s string) (MinigameID, bool) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", false
	}
	for _, id := range AllMinigames() {
		if strings.EqualFold(v, string(id)) {
			return id, true
		}
	}
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(v))
	if id, ok := minigameKeys[key]; ok {
		return id, true
	}
	return "", false
}

func (m MinigameID) Valid() bool {
	_, ok := ParseMinigameID(string(m))
	return ok
}

func (m MinigameID) String() string { return string(m) }

// Slug is the path segment used by the level endpoints.
func (m MinigameID) Slug() string { return string(m) }
