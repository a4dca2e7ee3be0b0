package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGet(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	payload := []byte("receipt bytes")
	require.NoError(t, s.Put(ctx, "evidence/u1/e1", payload))

	got, err := s.Get(ctx, "evidence/u1/e1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSStore_WriteOnce(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "evidence/u1/e1", []byte("first")))
	assert.Error(t, s.Put(ctx, "evidence/u1/e1", []byte("second")))

	got, err := s.Get(ctx, "evidence/u1/e1")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestFSStore_GetMissing(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "evidence/u1/nope")
	assert.Error(t, err)
}

func TestFSStore_RejectsEscapingRefs(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.Put(context.Background(), "../outside", []byte("x")))
	assert.Error(t, s.Put(context.Background(), "/abs/path", []byte("x")))
}

func TestSHA256_Deterministic(t *testing.T) {
	a := SHA256([]byte("same bytes"))
	b := SHA256([]byte("same bytes"))
	c := SHA256([]byte("other bytes"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
