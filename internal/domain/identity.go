package domain

import (
	"strings"
	"time"
)

// GuestIdentity is the persisted guest credential. Field names follow the
// stored record layout; ExpiresAt serializes as an ISO-8601 string.
type GuestIdentity struct {
	GuestID      string    `json:"guestId"`
	AccessToken  string    `json:"accessToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CollectionID string    `json:"collectionId"`
	SessionID    string    `json:"sessionId,omitempty"`
}

// GuestCredentials is what the remote create-identity call hands back.
type GuestCredentials struct {
	GuestID     string
	AccessToken string
	ExpiresAt   time.Time
}

// ValidAt reports whether the identity can be used for network calls at now.
func (g *GuestIdentity) ValidAt(now time.Time) bool {
	if g == nil {
		return false
	}
	if strings.TrimSpace(g.AccessToken) == "" {
		return false
	}
	return now.Before(g.ExpiresAt)
}

func (g *GuestIdentity) AuthHeader() string {
	if g == nil {
		return ""
	}
	return "Bearer " + g.AccessToken
}
