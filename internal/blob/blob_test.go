package blob

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/internal/common"
)

func TestKey(t *testing.T) {
	owner := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assert.Equal(t, "11111111-2222-3333-4444-555555555555/ab/abcdef.pdf", Key(owner, "abcdef", ".PDF"))
	assert.Equal(t, "11111111-2222-3333-4444-555555555555/ab/abcdef", Key(owner, "abcdef", ""))
}

func TestDirStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	key := Key(uuid.New(), "deadbeef", "pdf")
	require.NoError(t, s.Put(ctx, key, []byte("%PDF"), "application/pdf"))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), got)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDirStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), "../outside", []byte("x"), ""))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), common.StorageConfig{Backend: "dir", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DirStore{}, s)

	_, err = Open(context.Background(), common.StorageConfig{Backend: "minio"})
	assert.ErrorContains(t, err, "endpoint")

	_, err = Open(context.Background(), common.StorageConfig{Backend: "s3-glacier"})
	assert.Error(t, err)
}
