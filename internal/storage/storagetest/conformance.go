package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/storage"
)

// RunConformance checks the behaviour every storage.Store backend must share.
// newStore must return an empty store; the caller owns closing it.
func RunConformance(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "accounts/nobody")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "accounts/a1", map[string]any{"email": "a@x.io"}))
		b, err := s.Get(ctx, "accounts/a1")
		require.NoError(t, err)
		require.JSONEq(t, `{"email":"a@x.io"}`, string(b))

		require.NoError(t, s.Delete(ctx, "accounts/a1"))
		_, err = s.Get(ctx, "accounts/a1")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateCreatesAndMerges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, "listings/l1", storage.Patch{"title": "Course", "likes": storage.Increment(2)}))
		require.NoError(t, s.Update(ctx, "listings/l1", storage.Patch{"likes": storage.Increment(3)}))
		b, err := s.Get(ctx, "listings/l1")
		require.NoError(t, err)
		require.JSONEq(t, `{"title":"Course","likes":5}`, string(b))
	})

	t.Run("ConcurrentIncrementsAreNotLost", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "listings/l1", map[string]any{"views": 0}))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Update(ctx, "listings/l1", storage.Patch{"views": storage.Increment(1)})
			}()
		}
		wg.Wait()

		b, err := s.Get(ctx, "listings/l1")
		require.NoError(t, err)
		var doc map[string]float64
		require.NoError(t, json.Unmarshal(b, &doc))
		require.Equal(t, float64(20), doc["views"])
	})

	t.Run("ConcurrentClaimsHaveOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "accounts/a1", map[string]any{"walletBalance": 0}))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			won       int
			conflicts int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(ctx, "accounts/a1", storage.Patch{
					"referralCredits/u2": storage.Claim("t"),
					"walletBalance":      storage.Increment(10),
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					won++
				case errors.Is(err, storage.ErrConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, won)
		require.Equal(t, 9, conflicts)

		b, err := s.Get(ctx, "accounts/a1")
		require.NoError(t, err)
		require.JSONEq(t, `{"walletBalance":10,"referralCredits":{"u2":"t"}}`, string(b))
	})

	t.Run("ListDirectChildrenOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "withdrawals/w1", map[string]any{"amount": 1}))
		require.NoError(t, s.Set(ctx, "withdrawals/w2", map[string]any{"amount": 2}))
		require.NoError(t, s.Set(ctx, "withdrawalsArchive/w3", map[string]any{"amount": 3}))

		recs, err := s.List(ctx, "withdrawals")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		ids := []string{recs[0].ID, recs[1].ID}
		require.ElementsMatch(t, []string{"w1", "w2"}, ids)
	})

	t.Run("PushAssignsIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id1, err := s.Push(ctx, "referralBonuses", map[string]any{"bonusAmount": 10})
		require.NoError(t, err)
		id2, err := s.Push(ctx, "referralBonuses", map[string]any{"bonusAmount": 10})
		require.NoError(t, err)
		require.NotEqual(t, id1, id2)

		recs, err := s.List(ctx, "referralBonuses")
		require.NoError(t, err)
		require.Len(t, recs, 2)
	})

	t.Run("WatchDeliversAndReleases", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		events, err := s.Watch(ctx, "listings")
		require.NoError(t, err)

		require.NoError(t, s.Set(context.Background(), "accounts/a1", map[string]any{"email": "a@x.io"}))
		require.NoError(t, s.Set(context.Background(), "listings/l1", map[string]any{"title": "t"}))

		evt := next(t, events)
		require.Equal(t, "listings/l1", evt.Path)
		require.JSONEq(t, `{"title":"t"}`, string(evt.Value))

		require.NoError(t, s.Delete(context.Background(), "listings/l1"))
		evt = next(t, events)
		require.True(t, evt.Deleted)

		cancel()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("watch channel not closed after cancel")
			}
		}
	})

	t.Run("InvalidPath", func(t *testing.T) {
		s := newStore(t)
		err := s.Set(context.Background(), "accounts//x", map[string]any{})
		require.True(t, errors.Is(err, storage.ErrInvalidPath))
	})
}

func next(t *testing.T, ch <-chan storage.Event) storage.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "watch channel closed early")
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
	return storage.Event{}
}
