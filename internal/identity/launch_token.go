package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/park285/hpl-runner/internal/domain"
)

// launchClaims is the claim set carried by share-link launch tokens.
type launchClaims struct {
	jwt.RegisteredClaims
	CollectionID string `json:"collection_id"`
}

// LaunchTokenVerifier decodes HS256 launch tokens into guest identities.
type LaunchTokenVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

func NewLaunchTokenVerifier(secret string, clock clockwork.Clock) (*LaunchTokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("launch token secret is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LaunchTokenVerifier{secret: []byte(secret), clock: clock}, nil
}

// Verify checks signature and expiry. sub becomes the guest id and the raw
// token becomes the access token.
func (v *LaunchTokenVerifier) Verify(token string) (*domain.GuestIdentity, error) {
	var claims launchClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: launch token: %w", domain.ErrIdentityMissing, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: launch token has no subject", domain.ErrIdentityMissing)
	}
	return &domain.GuestIdentity{
		GuestID:      claims.Subject,
		AccessToken:  token,
		ExpiresAt:    claims.ExpiresAt.Time.UTC(),
		CollectionID: claims.CollectionID,
	}, nil
}

// SignLaunchToken issues a token Verify accepts. Used by hplcheck and tests.
func SignLaunchToken(secret, guestID, collectionID string, expiresAt time.Time) (string, error) {
	claims := launchClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guestID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		CollectionID: collectionID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
