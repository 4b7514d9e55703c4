// Package auth resolves the identity that owns onboarding state. Identities
// start anonymous (a locally generated id with no account behind it) and may
// later be upgraded to authenticated under the same id, so sessions started
// before sign-in stay attached to their owner.
package auth

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const identityKey = "identity"

// ErrNoIdentity is returned by CurrentIdentity when no identity exists yet.
var ErrNoIdentity = errors.New("no identity established")

// Identity is the user identity owning onboarding state.
type Identity struct {
	ID          string `json:"id"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// Provider supplies the current identity. Anonymity can change between
// calls (a later onboarding step may trigger sign-in), so callers must
// re-check IsAnonymous at every remote call site instead of caching it.
type Provider interface {
	// CurrentIdentity returns the current identity, or ErrNoIdentity.
	CurrentIdentity(ctx context.Context) (*Identity, error)
	// EnsureIdentity returns the current identity, creating an anonymous
	// one when none exists.
	EnsureIdentity(ctx context.Context) (*Identity, error)
}

// LocalCache is the durable key-value store the provider persists to.
type LocalCache interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// LocalProvider persists the identity in the local durable cache.
type LocalProvider struct {
	mu    sync.Mutex
	cache LocalCache
}

// NewLocalProvider creates a provider backed by the given cache.
func NewLocalProvider(cache LocalCache) *LocalProvider {
	return &LocalProvider{cache: cache}
}

func (p *LocalProvider) CurrentIdentity(_ context.Context) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.load()
}

func (p *LocalProvider) EnsureIdentity(_ context.Context) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	identity, err := p.load()
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, ErrNoIdentity) {
		return nil, err
	}

	identity = &Identity{
		ID:          uuid.New().String(),
		IsAnonymous: true,
	}
	if err := p.save(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// SignIn upgrades the current identity to authenticated, keeping its id so
// previously captured state stays owned by the same lineage. When no
// identity exists yet, an authenticated one is created.
func (p *LocalProvider) SignIn(_ context.Context) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	identity, err := p.load()
	if err != nil {
		if !errors.Is(err, ErrNoIdentity) {
			return nil, err
		}
		identity = &Identity{ID: uuid.New().String()}
	}
	identity.IsAnonymous = false
	if err := p.save(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (p *LocalProvider) load() (*Identity, error) {
	raw, ok := p.cache.Get(identityKey)
	if !ok || raw == "" {
		return nil, ErrNoIdentity
	}
	identity := &Identity{}
	if err := json.Unmarshal([]byte(raw), identity); err != nil {
		return nil, errors.Wrap(err, "failed to parse stored identity")
	}
	if identity.ID == "" {
		return nil, ErrNoIdentity
	}
	return identity, nil
}

func (p *LocalProvider) save(identity *Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return errors.Wrap(err, "failed to marshal identity")
	}
	if err := p.cache.Set(identityKey, string(raw)); err != nil {
		return errors.Wrap(err, "failed to persist identity")
	}
	return nil
}
