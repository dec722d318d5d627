// Package progress tracks which minigames a guest has unlocked and cleared.
package progress

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/internal/store"
)

const StorageKey = "game_levels_v1"

type LevelState string

const (
	Locked   LevelState = "locked"
	Unlocked LevelState = "unlocked"
	Cleared  LevelState = "cleared"
)

type Entry struct {
	Minigame domain.MinigameID
	State    LevelState
}

type record struct {
	Owner  string                           `json:"owner,omitempty"`
	Levels map[domain.MinigameID]LevelState `json:"levels"`
}

// Tracker persists level states in play order: the first minigame starts
// unlocked, clearing one unlocks the next.
type Tracker struct {
	store  store.Store
	order  []domain.MinigameID
	logger *zap.Logger

	mu sync.Mutex
}

func NewTracker(st store.Store, order []domain.MinigameID, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cp := append([]domain.MinigameID(nil), order...)
	return &Tracker{store: st, order: cp, logger: logger}
}

func (t *Tracker) defaults() map[domain.MinigameID]LevelState {
	out := make(map[domain.MinigameID]LevelState, len(t.order))
	for i, id := range t.order {
		if i == 0 {
			out[id] = Unlocked
		} else {
			out[id] = Locked
		}
	}
	return out
}

// load falls back to defaults for absent or unreadable records and fills in
// minigames added to the order since the record was written.
func (t *Tracker) load(ctx context.Context) (record, error) {
	var rec record
	ok, err := store.GetJSON(ctx, t.store, StorageKey, &rec)
	if err != nil {
		t.logger.Warn("progress_load_failed", zap.Error(err))
		ok = false
	}
	if !ok || rec.Levels == nil {
		return record{Owner: rec.Owner, Levels: t.defaults()}, nil
	}
	for id, st := range t.defaults() {
		if _, have := rec.Levels[id]; !have {
			rec.Levels[id] = st
		}
	}
	return rec, nil
}

func (t *Tracker) save(ctx context.Context, rec record) error {
	if err := store.SetJSON(ctx, t.store, StorageKey, rec); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Entries lists every minigame with its state in play order.
func (t *Tracker) Entries(ctx context.Context) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(t.order))
	for i, id := range t.order {
		out[i] = Entry{Minigame: id, State: rec.Levels[id]}
	}
	return out, nil
}

func (t *Tracker) State(ctx context.Context, id domain.MinigameID) (LevelState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.load(ctx)
	if err != nil {
		return "", err
	}
	st, ok := rec.Levels[id]
	if !ok {
		return "", fmt.Errorf("unknown minigame %q", id)
	}
	return st, nil
}

// MarkCleared clears id and unlocks the next minigame if it is still locked.
func (t *Tracker) MarkCleared(ctx context.Context, id domain.MinigameID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.index(id)
	if idx < 0 {
		return fmt.Errorf("unknown minigame %q", id)
	}
	rec, err := t.load(ctx)
	if err != nil {
		return err
	}
	rec.Levels[id] = Cleared
	if idx+1 < len(t.order) {
		next := t.order[idx+1]
		if rec.Levels[next] == Locked {
			rec.Levels[next] = Unlocked
		}
	}
	t.logger.Info("progress_cleared", zap.String("minigame", id.String()))
	return t.save(ctx, rec)
}

// Reset restores the default states. The owner is kept.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.load(ctx)
	if err != nil {
		return err
	}
	return t.save(ctx, record{Owner: rec.Owner, Levels: t.defaults()})
}

// SyncGuest resets progress when the guest differs from the one that made
// it, including a cleared guest (""). The first guest just claims it.
func (t *Tracker) SyncGuest(ctx context.Context, guestID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.load(ctx)
	if err != nil {
		return false, err
	}
	if rec.Owner == guestID {
		return false, nil
	}
	if rec.Owner == "" {
		rec.Owner = guestID
		return false, t.save(ctx, rec)
	}
	t.logger.Info("progress_reset_guest_changed", zap.String("previous", rec.Owner), zap.String("guest_id", guestID))
	return true, t.save(ctx, record{Owner: guestID, Levels: t.defaults()})
}

func (t *Tracker) index(id domain.MinigameID) int {
	for i, v := range t.order {
		if v == id {
			return i
		}
	}
	return -1
}
