package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/auditup/authgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(&config.SessionConfig{
		RedisAddr: mr.Addr(),
		TTL:       time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "s1", completeSnapshot()))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "A1", got.Tokens.AccessToken)
	assert.Equal(t, "R1", got.Tokens.RefreshToken)
	assert.Equal(t, "I1", got.Tokens.IDToken)
	assert.Equal(t, "RSSI", got.Profile.Role)

	require.NoError(t, store.Clear(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_RejectsIncompleteSnapshot(t *testing.T) {
	store := newRedisStore(t)

	err := store.Put(context.Background(), "s1", &Snapshot{Tokens: completeSnapshot().Tokens})
	assert.ErrorIs(t, err, ErrIncompleteSnapshot)
}

func TestNewRedisStore_ConnectFailure(t *testing.T) {
	_, err := NewRedisStore(&config.SessionConfig{RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}
