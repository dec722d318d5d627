// Package history stores finished attempts.
package history

import (
	"context"
	"errors"

	"github.com/park285/hpl-runner/pkg/gamedto"
)

var ErrMissingAttemptID = errors.New("attempt id is required")

// Store records finished attempts and lists a guest's recent ones, newest
// first.
type Store interface {
	Record(ctx context.Context, r gamedto.GameResult) error
	Recent(ctx context.Context, guestID string, limit int) ([]gamedto.GameResult, error)
}
