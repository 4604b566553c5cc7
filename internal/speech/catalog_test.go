package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	ids   []string
}

func (s *stubLister) ListActors(ctx context.Context) ([]VoiceActor, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]VoiceActor, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, VoiceActor{ID: id})
	}
	return out, nil
}

func TestVoiceCatalogCachesWithinTTL(t *testing.T) {
	lister := &stubLister{ids: []string{"a", "b"}}
	c := NewVoiceCatalog(lister, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	id, err := c.DefaultID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", id)
	_, err = c.Actors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), lister.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Actors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), lister.calls.Load())

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), lister.calls.Load())
}

func TestVoiceCatalogDedupesConcurrentRefresh(t *testing.T) {
	lister := &stubLister{ids: []string{"a"}, delay: 50 * time.Millisecond}
	c := NewVoiceCatalog(lister, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Actors(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), lister.calls.Load())
}

func TestVoiceCatalogServesStaleOnError(t *testing.T) {
	lister := &stubLister{ids: []string{"a"}}
	c := NewVoiceCatalog(lister, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	_, err := c.Actors(context.Background())
	require.NoError(t, err)

	lister.err = errors.New("upstream down")
	now = now.Add(time.Hour)
	actors, err := c.Actors(context.Background())
	require.NoError(t, err)
	assert.Len(t, actors, 1)

	_, err = c.Refresh(context.Background())
	assert.Error(t, err)
}

func TestVoiceCatalogEmpty(t *testing.T) {
	c := NewVoiceCatalog(&stubLister{}, time.Minute)
	_, err := c.DefaultID(context.Background())
	assert.ErrorIs(t, err, ErrNoVoice)
}
