package intake

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phildougherty/medic/internal/ai"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := NewRedisSessionStore(context.Background(), "redis://"+mr.Addr()+"/0", ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestSessionStores(t *testing.T) {
	redisStore, _ := newRedisStore(t, time.Hour)

	stores := map[string]SessionStore{
		"memory": NewMemorySessionStore(),
		"redis":  redisStore,
	}

	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			s := NewSession("en")
			s.append(ai.RoleUser, "hello", "key.wav")
			require.NoError(t, st.Save(ctx, s))

			got, err := st.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)
			require.Len(t, got.History, 1)
			assert.Equal(t, "key.wav", got.History[0].AudioKey)

			got.append(ai.RoleAssistant, "hi", "")
			again, err := st.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.Len(t, again.History, 1, "mutating a loaded session must not change the stored one")

			n, err := st.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			stale := NewSession("en")
			stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
			require.NoError(t, st.Save(ctx, stale))

			removed, err := st.Reap(ctx, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)
			_, err = st.Get(ctx, stale.ID)
			assert.ErrorIs(t, err, ErrSessionNotFound)

			require.NoError(t, st.Delete(ctx, s.ID))
			n, err = st.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestRedisSessionStore_TTL(t *testing.T) {
	st, mr := newRedisStore(t, 30*time.Minute)
	ctx := context.Background()

	s := NewSession("en")
	require.NoError(t, st.Save(ctx, s))
	assert.Equal(t, 30*time.Minute, mr.TTL(sessionKeyPrefix+s.ID))

	mr.FastForward(31 * time.Minute)
	_, err := st.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewRedisSessionStore_Errors(t *testing.T) {
	_, err := NewRedisSessionStore(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisSessionStore(context.Background(), "redis://"+addr, time.Minute)
	assert.Error(t, err)
}
