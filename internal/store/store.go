// Package store provides the namespaced key/value persistence used for the
// guest identity and level progress.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultNamespace matches the key prefix the web client used.
const DefaultNamespace = "gbl_game_"

// ErrCorrupt marks a stored value that no longer decodes.
var ErrCorrupt = errors.New("corrupt stored value")

// Store is a namespaced key/value store. Get reports absence with ok=false
// and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// GetJSON loads key into out. ok is false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrCorrupt, key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
