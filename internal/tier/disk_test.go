package tier

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/pkg/errors"
)

func newTestDiskStore(t *testing.T, level int) *DiskStore {
	t.Helper()

	s, err := NewDiskStore(config.DiskStoreConfig{
		Directory:        t.TempDir(),
		CompressionLevel: level,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDiskStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestDiskStore(t, 3)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("audio frame "), 500)
	require.NoError(t, s.Write(ctx, "loop.wav", payload))

	got, err := s.Read(ctx, "loop.wav")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDiskStoreCompressionShrinksRepetitivePayloads(t *testing.T) {
	t.Parallel()

	s := newTestDiskStore(t, 3)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("very repetitive pcm "), 1000)
	require.NoError(t, s.Write(ctx, "pad.wav", payload))

	assert.Less(t, s.StoredBytes(), int64(len(payload)))

	// The checksum covers the logical payload, not the compressed bytes.
	sum, err := s.Checksum(ctx, "pad.wav")
	require.NoError(t, err)

	uncompressed := newTestDiskStore(t, 0)
	require.NoError(t, uncompressed.Write(ctx, "pad.wav", payload))
	plainSum, err := uncompressed.Checksum(ctx, "pad.wav")
	require.NoError(t, err)
	assert.Equal(t, plainSum, sum)
}

func TestDiskStoreMissingKey(t *testing.T) {
	t.Parallel()

	s := newTestDiskStore(t, 0)
	ctx := context.Background()

	_, err := s.Read(ctx, "absent")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "absent"))
}

func TestDiskStoreDelete(t *testing.T) {
	t.Parallel()

	s := newTestDiskStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "gone.wav", []byte("bytes")))
	require.NoError(t, s.Delete(ctx, "gone.wav"))

	_, err := s.Read(ctx, "gone.wav")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	keys, err := s.ListPresent(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDiskStoreIndexSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.DiskStoreConfig{Directory: dir, CompressionLevel: 3}
	ctx := context.Background()

	s, err := NewDiskStore(cfg)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("persist me "), 200)
	require.NoError(t, s.Write(ctx, "keep.wav", payload))
	require.NoError(t, s.Close())

	reopened, err := NewDiskStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Read(ctx, "keep.wav")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	keys, err := reopened.ListPresent(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.wav"}, keys)
}

func TestDiskStoreOverwrite(t *testing.T) {
	t.Parallel()

	s := newTestDiskStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "k", []byte("first")))
	require.NoError(t, s.Write(ctx, "k", []byte("second")))

	got, err := s.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestDiskStoreRequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewDiskStore(config.DiskStoreConfig{})
	assert.Error(t, err)
}
