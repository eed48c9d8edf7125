package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyOwnerToken, "old"))
	require.NoError(t, s.Set(ctx, KeyOwnerToken, "new"))

	v, err := s.Get(ctx, KeyOwnerToken)
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	missing, err := s.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStore_SetAll(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeySessionID, "stale"))
	require.NoError(t, s.SetAll(ctx, map[string]string{
		KeyContactToken: "tok",
		KeyContactID:    "c1",
		KeySessionID:    "",
	}))

	m, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeyContactToken: "tok", KeyContactID: "c1"}, m)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	m, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, m)

	require.NoError(t, s.Clear(ctx))
	m, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestStore_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyServerURL, "http://vault"))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, KeyServerURL)
	require.NoError(t, err)
	assert.Equal(t, "http://vault", v)
}
