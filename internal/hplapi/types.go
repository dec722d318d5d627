package hplapi

import (
	"encoding/json"
	"net/url"
	"time"
)

const (
	pathGuestSession = "/api/v1/guest/session"
	pathLaunch       = "/api/v1/hpl/game/launch"
)

// id 는 서버/호출자 값이므로 한 path segment 로 escape
func pathSubmit(sessionID string) string {
	return "/api/v1/hpl/session/" + url.PathEscape(sessionID) + "/submit"
}
func pathSession(sessionID string) string { return "/api/v1/hpl/session/" + url.PathEscape(sessionID) }
func pathNext(collectionID string) string {
	return "/api/v1/hpl/game/" + url.PathEscape(collectionID) + "/next"
}
func pathLevels(slug string) string { return "/api/v1/minigames/" + url.PathEscape(slug) + "/levels" }

type CreateGuestRequest struct {
	Token string `json:"token,omitempty"`
}

type GuestPayload struct {
	GuestID     string    `json:"guestId"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type LaunchRequest struct {
	CollectionID string `json:"collectionId"`
	MinigameID   string `json:"minigameId"`
}

type LaunchResponse struct {
	SessionID string `json:"sessionId"`
}

type SubmitRequest struct {
	Score     int               `json:"score"`
	Answers   []json.RawMessage `json:"answers"`
	ElapsedMs int64             `json:"elapsedMs"`
}

// SessionStatus is the backend's view of a launched session.
type SessionStatus struct {
	SessionID  string `json:"sessionId"`
	MinigameID string `json:"minigameId"`
	State      string `json:"state"`
	Score      *int   `json:"score,omitempty"`
}

type NextGameRequest struct {
	SessionID string `json:"sessionId"`
}
