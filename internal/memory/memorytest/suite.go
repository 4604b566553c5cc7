// Package memorytest holds the behaviour suite every memory.Store must pass.
package memorytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/companion/internal/emotion"
	"github.com/ent0n29/companion/internal/memory"
)

// Run exercises a store implementation. makeStore must return a store the
// suite may write to; session ids are unique per run so shared backends can
// be reused.
func Run(t *testing.T, makeStore func(t *testing.T) memory.Store) {
	t.Helper()

	t.Run("RecentTurnsOrderAndDefaultLimit", func(t *testing.T) {
		s := makeStore(t)
		ctx := context.Background()
		sid := newSessionID()
		base := time.Now().UTC().Truncate(time.Microsecond)

		for i := 0; i < 25; i++ {
			require.NoError(t, s.AppendTurn(ctx, memory.Turn{
				SessionID: sid,
				Role:      roleFor(i),
				Content:   fmt.Sprintf("turn-%02d", i),
				CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			}))
		}

		got, err := s.RecentTurns(ctx, sid, 0)
		require.NoError(t, err)
		require.Len(t, got, memory.DefaultRecentLimit)
		assert.Equal(t, "turn-05", got[0].Content)
		assert.Equal(t, "turn-24", got[len(got)-1].Content)
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt), "turns out of order at %d", i)
		}

		got, err = s.RecentTurns(ctx, sid, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"turn-22", "turn-23", "turn-24"}, contents(got))
	})

	t.Run("EqualTimestampsKeepInsertionOrder", func(t *testing.T) {
		s := makeStore(t)
		ctx := context.Background()
		sid := newSessionID()
		ts := time.Now().UTC().Truncate(time.Microsecond)

		for _, c := range []string{"a", "b", "c"} {
			require.NoError(t, s.AppendTurn(ctx, memory.Turn{SessionID: sid, Role: memory.RoleUser, Content: c, CreatedAt: ts}))
		}
		got, err := s.RecentTurns(ctx, sid, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, contents(got))
	})

	t.Run("TurnFieldsRoundTrip", func(t *testing.T) {
		s := makeStore(t)
		ctx := context.Background()
		sid := newSessionID()
		ts := time.Now().UTC().Truncate(time.Microsecond)

		require.NoError(t, s.AppendTurn(ctx, memory.Turn{
			SessionID:   sid,
			Role:        memory.RoleAssistant,
			Content:     "こんにちは",
			Emotion:     emotion.Happy,
			PIIRedacted: true,
			CreatedAt:   ts,
		}))
		got, err := s.RecentTurns(ctx, sid, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.NotEmpty(t, got[0].ID)
		assert.Equal(t, sid, got[0].SessionID)
		assert.Equal(t, memory.RoleAssistant, got[0].Role)
		assert.Equal(t, "こんにちは", got[0].Content)
		assert.Equal(t, emotion.Happy, got[0].Emotion)
		assert.True(t, got[0].PIIRedacted)
		assert.True(t, ts.Equal(got[0].CreatedAt), "timestamp = %v, want %v", got[0].CreatedAt, ts)
	})

	t.Run("SessionsAreIsolated", func(t *testing.T) {
		s := makeStore(t)
		ctx := context.Background()
		a, b := newSessionID(), newSessionID()

		require.NoError(t, s.AppendTurn(ctx, memory.Turn{SessionID: a, Role: memory.RoleUser, Content: "for a"}))
		got, err := s.RecentTurns(ctx, b, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("InvalidTurnIsStorageError", func(t *testing.T) {
		s := makeStore(t)
		err := s.AppendTurn(context.Background(), memory.Turn{SessionID: newSessionID(), Role: memory.RoleUser})
		require.Error(t, err)
		assert.ErrorIs(t, err, memory.ErrStorage)
	})

	t.Run("ProfileUpsertReplacesWholeRecord", func(t *testing.T) {
		s := makeStore(t)
		ctx := context.Background()
		sid := newSessionID()

		p, err := s.Profile(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, sid, p.SessionID)
		assert.True(t, p.Empty())

		before := time.Now().UTC().Add(-time.Second)
		require.NoError(t, s.UpsertProfile(ctx, memory.Profile{SessionID: sid, Name: "Aki", Preferences: "coffee"}))
		p, err = s.Profile(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, "Aki", p.Name)
		assert.Equal(t, "coffee", p.Preferences)
		assert.True(t, p.LastInteraction.After(before), "last interaction = %v", p.LastInteraction)

		require.NoError(t, s.UpsertProfile(ctx, memory.Profile{SessionID: sid, Name: "Aki"}))
		p, err = s.Profile(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, "Aki", p.Name)
		assert.Empty(t, p.Preferences)
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := makeStore(t)
		ctx := context.Background()
		sid := newSessionID()

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.AppendTurn(ctx, memory.Turn{SessionID: sid, Role: roleFor(i), Content: fmt.Sprintf("c%d", i)})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		got, err := s.RecentTurns(ctx, sid, n*2)
		require.NoError(t, err)
		assert.Len(t, got, n)
	})
}

func newSessionID() string {
	return "s-" + uuid.NewString()
}

func roleFor(i int) memory.Role {
	if i%2 == 0 {
		return memory.RoleUser
	}
	return memory.RoleAssistant
}

func contents(turns []memory.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}
