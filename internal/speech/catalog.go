package speech

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCatalogTTL is how long a fetched voice catalog stays fresh.
const DefaultCatalogTTL = 30 * time.Minute

// ActorLister fetches the provider's voice catalog.
type ActorLister interface {
	ListActors(ctx context.Context) ([]VoiceActor, error)
}

// VoiceCatalog caches the voice-actor list. Concurrent refreshes share a
// single upstream call. A failed refresh keeps serving the previous list.
type VoiceCatalog struct {
	lister ActorLister
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu        sync.RWMutex
	actors    []VoiceActor
	fetchedAt time.Time
}

func NewVoiceCatalog(lister ActorLister, ttl time.Duration) *VoiceCatalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &VoiceCatalog{lister: lister, ttl: ttl, now: time.Now}
}

// Actors returns the cached catalog, refreshing it first when stale.
func (c *VoiceCatalog) Actors(ctx context.Context) ([]VoiceActor, error) {
	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl
	actors := c.actors
	c.mu.RUnlock()
	if fresh {
		return cloneActors(actors), nil
	}

	refreshed, err := c.Refresh(ctx)
	if err != nil {
		if len(actors) > 0 {
			return cloneActors(actors), nil
		}
		return nil, err
	}
	return refreshed, nil
}

// Refresh fetches the catalog regardless of age.
func (c *VoiceCatalog) Refresh(ctx context.Context) ([]VoiceActor, error) {
	v, err, _ := c.group.Do("actors", func() (any, error) {
		actors, err := c.lister.ListActors(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.actors = actors
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return actors, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneActors(v.([]VoiceActor)), nil
}

// DefaultID returns the first actor's id.
func (c *VoiceCatalog) DefaultID(ctx context.Context) (string, error) {
	actors, err := c.Actors(ctx)
	if err != nil {
		return "", err
	}
	if len(actors) == 0 {
		return "", synthesisErr(nijiProvider, ErrNoVoice, false)
	}
	return actors[0].ID, nil
}

func cloneActors(in []VoiceActor) []VoiceActor {
	if in == nil {
		return nil
	}
	out := make([]VoiceActor, len(in))
	copy(out, in)
	return out
}
