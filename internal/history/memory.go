package history

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/hpl-runner/pkg/gamedto"
)

// Memory is the history store used when no database is configured.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]gamedto.GameResult
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]gamedto.GameResult)}
}

// Record upserts by attempt id.
func (m *Memory) Record(_ context.Context, r gamedto.GameResult) error {
	if r.AttemptID == "" {
		return ErrMissingAttemptID
	}
	m.mu.Lock()
	m.rows[r.AttemptID] = r
	m.mu.Unlock()
	return nil
}

func (m *Memory) Recent(_ context.Context, guestID string, limit int) ([]gamedto.GameResult, error) {
	m.mu.RLock()
	out := make([]gamedto.GameResult, 0, len(m.rows))
	for _, r := range m.rows {
		if guestID == "" || r.GuestID == guestID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
