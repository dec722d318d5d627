// Package identity owns the single guest identity of a runner process.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/internal/store"
)

// StorageKey is the key of the persisted identity record.
const StorageKey = "guest_session"

// GuestCreator is the remote create-identity operation.
type GuestCreator interface {
	CreateGuest(ctx context.Context, launchToken string) (domain.GuestCredentials, error)
}

type Option func(*Manager)

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithVerifier lets Adopt derive identities from signed launch tokens
// without a network round trip.
func WithVerifier(v *LaunchTokenVerifier) Option {
	return func(m *Manager) { m.verifier = v }
}

func WithCollectionIDFunc(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newCollectionID = fn
		}
	}
}

type Manager struct {
	store           store.Store
	creator         GuestCreator
	verifier        *LaunchTokenVerifier
	clock           clockwork.Clock
	logger          *zap.Logger
	newCollectionID func() string

	// mu is held across the create call so concurrent Ensure callers share
	// one remote identity.
	mu      sync.Mutex
	current *domain.GuestIdentity
}

func NewManager(st store.Store, creator GuestCreator, opts ...Option) *Manager {
	m := &Manager{
		store:           st,
		creator:         creator,
		clock:           clockwork.NewRealClock(),
		logger:          zap.NewNop(),
		newCollectionID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure returns a valid identity: the cached one, then the stored one,
// then a freshly created one. Creation failures are returned unchanged.
func (m *Manager) Ensure(ctx context.Context) (*domain.GuestIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.current.ValidAt(now) {
		return clone(m.current), nil
	}
	m.current = nil

	stored, err := m.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		m.current = stored
		return clone(stored), nil
	}
	return m.createLocked(ctx, "")
}

// Load reloads the identity from storage, replacing the cached one. A
// missing or invalid record yields nil without error.
func (m *Manager) Load(ctx context.Context) (*domain.GuestIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	m.current = g
	return clone(g), nil
}

// Current returns the cached identity without any I/O; nil when none.
func (m *Manager) Current() *domain.GuestIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.current)
}

// Clear forgets the identity in memory and in storage.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	if err := m.store.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("remove identity: %w", err)
	}
	m.logger.Info("identity_clear")
	return nil
}

// RecordSession stamps the launched session id on the identity record.
func (m *Manager) RecordSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.ErrIdentityMissing
	}
	m.current.SessionID = sessionID
	return m.persistLocked(ctx, m.current)
}

// Adopt replaces the identity with one bootstrapped from an inbound launch
// token. With a verifier the token is decoded locally; otherwise it is
// forwarded to the remote create operation.
func (m *Manager) Adopt(ctx context.Context, launchToken string) (*domain.GuestIdentity, error) {
	launchToken = strings.TrimSpace(launchToken)
	if launchToken == "" {
		return nil, fmt.Errorf("%w: empty launch token", domain.ErrIdentityMissing)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.verifier == nil {
		return m.createLocked(ctx, launchToken)
	}
	g, err := m.verifier.Verify(launchToken)
	if err != nil {
		m.logger.Warn("identity_adopt_rejected", zap.Error(err))
		return nil, err
	}
	if g.CollectionID == "" {
		g.CollectionID = m.newCollectionID()
	}
	if err := m.persistLocked(ctx, g); err != nil {
		m.logger.Warn("identity_persist_failed", zap.Error(err))
	}
	m.current = g
	m.logger.Info("identity_adopt", zap.String("guest_id", g.GuestID), zap.Time("expires_at", g.ExpiresAt))
	return clone(g), nil
}

func (m *Manager) loadLocked(ctx context.Context) (*domain.GuestIdentity, error) {
	var g domain.GuestIdentity
	ok, err := store.GetJSON(ctx, m.store, StorageKey, &g)
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			m.logger.Warn("identity_corrupt", zap.Error(err))
			_ = m.store.Remove(ctx, StorageKey)
			return nil, nil
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if !g.ValidAt(m.clock.Now()) {
		m.logger.Info("identity_expired", zap.String("guest_id", g.GuestID), zap.Time("expires_at", g.ExpiresAt))
		if err := m.store.Remove(ctx, StorageKey); err != nil {
			return nil, fmt.Errorf("remove expired identity: %w", err)
		}
		return nil, nil
	}
	return &g, nil
}

func (m *Manager) createLocked(ctx context.Context, launchToken string) (*domain.GuestIdentity, error) {
	if m.creator == nil {
		return nil, domain.ErrIdentityMissing
	}
	creds, err := m.creator.CreateGuest(ctx, launchToken)
	if err != nil {
		m.logger.Warn("identity_create_failed", zap.Error(err))
		return nil, err
	}
	g := &domain.GuestIdentity{
		GuestID:      creds.GuestID,
		AccessToken:  creds.AccessToken,
		ExpiresAt:    creds.ExpiresAt.UTC(),
		CollectionID: m.newCollectionID(),
	}
	if !g.ValidAt(m.clock.Now()) {
		return nil, fmt.Errorf("%w: issued identity already expired", domain.ErrIdentityMissing)
	}
	if err := m.persistLocked(ctx, g); err != nil {
		m.logger.Warn("identity_persist_failed", zap.Error(err))
	}
	m.current = g
	m.logger.Info("identity_create", zap.String("guest_id", g.GuestID), zap.Time("expires_at", g.ExpiresAt))
	return clone(g), nil
}

func (m *Manager) persistLocked(ctx context.Context, g *domain.GuestIdentity) error {
	return store.SetJSON(ctx, m.store, StorageKey, g)
}

func clone(g *domain.GuestIdentity) *domain.GuestIdentity {
	if g == nil {
		return nil
	}
	cp := *g
	return &cp
}
