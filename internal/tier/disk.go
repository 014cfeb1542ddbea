package tier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/pkg/errors"
	"github.com/wavecache/wavecache/pkg/types"
)

const indexFileName = "index.json"

// diskObject is one index record. Checksum always covers the logical
// payload, never the compressed on-disk encoding.
type diskObject struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	StoredSize int64     `json:"stored_size"`
	Compressed bool      `json:"compressed"`
	Checksum   uint64    `json:"checksum"`
	StoredAt   time.Time `json:"stored_at"`
}

// DiskStore is the durable local tier. Payloads live as individual files
// named by key hash, optionally zstd-compressed, with a JSON index mapping
// keys to files. The index is rewritten on every mutation so a crash loses
// at most the in-flight operation.
type DiskStore struct {
	dir     string
	encoder *zstd.Encoder // nil when compression is disabled
	decoder *zstd.Decoder

	mu    sync.RWMutex
	index map[string]diskObject
}

var _ types.TierStore = (*DiskStore)(nil)

// NewDiskStore opens (or initializes) a disk store rooted at cfg.Directory,
// loading any existing index.
func NewDiskStore(cfg config.DiskStoreConfig) (*DiskStore, error) {
	if cfg.Directory == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "disk tier directory not set")
	}
	if err := os.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create disk tier directory: %w", err)
	}

	s := &DiskStore{
		dir:   cfg.Directory,
		index: make(map[string]diskObject),
	}

	if cfg.CompressionLevel > 0 {
		encoder, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		s.encoder = encoder
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	s.decoder = decoder

	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DiskStore) loadIndex() error {
	path := filepath.Join(s.dir, indexFileName)
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from configured directory
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read disk tier index: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("failed to parse disk tier index: %w", err)
	}
	return nil
}

// saveIndexLocked writes the index atomically via rename. Callers hold the
// write lock.
func (s *DiskStore) saveIndexLocked() error {
	data, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("failed to encode disk tier index: %w", err)
	}

	tmp := filepath.Join(s.dir, indexFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write disk tier index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, indexFileName)); err != nil {
		return fmt.Errorf("failed to replace disk tier index: %w", err)
	}
	return nil
}

func (s *DiskStore) fileFor(key string) string {
	return fmt.Sprintf("%016x.bin", xxh3.HashString(key))
}

// Read loads and, if needed, decompresses the payload for key, verifying
// its checksum.
func (s *DiskStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	obj, ok := s.index[key]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeObjectNotFound, "key %q not in disk tier", key).
			WithComponent("tier.disk").WithOperation("read")
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, obj.File)) // #nosec G304 -- file name is a key hash
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeStorageRead, "failed to read %q from disk tier", key).
			WithComponent("tier.disk").WithOperation("read").WithCause(err)
	}

	data := raw
	if obj.Compressed {
		data, err = s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeStorageRead, "failed to decompress %q", key).
				WithComponent("tier.disk").WithOperation("read").WithCause(err)
		}
	}

	if sum := xxh3.Hash(data); sum != obj.Checksum {
		// Corrupt on-disk copy: drop it so the tier reports a clean miss
		// on the next attempt instead of serving bad bytes.
		s.mu.Lock()
		delete(s.index, key)
		_ = os.Remove(filepath.Join(s.dir, obj.File))
		_ = s.saveIndexLocked()
		s.mu.Unlock()

		return nil, errors.Newf(errors.ErrCodeStorageRead,
			"checksum mismatch for %q: stored %016x, computed %016x", key, obj.Checksum, sum).
			WithComponent("tier.disk").WithOperation("read")
	}
	return data, nil
}

// Write stores data under key, compressing when the encoder is configured
// and compression actually shrinks the payload.
func (s *DiskStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj := diskObject{
		File:       s.fileFor(key),
		Size:       int64(len(data)),
		StoredSize: int64(len(data)),
		Checksum:   xxh3.Hash(data),
		StoredAt:   time.Now(),
	}

	stored := data
	if s.encoder != nil {
		compressed := s.encoder.EncodeAll(data, make([]byte, 0, len(data)))
		if len(compressed) < len(data) {
			stored = compressed
			obj.Compressed = true
			obj.StoredSize = int64(len(compressed))
		}
	}

	if err := os.WriteFile(filepath.Join(s.dir, obj.File), stored, 0o600); err != nil {
		return errors.Newf(errors.ErrCodeStorageWrite, "failed to write %q to disk tier", key).
			WithComponent("tier.disk").WithOperation("write").WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[key] = obj
	return s.saveIndexLocked()
}

// Delete removes key and its backing file. Absent keys are not an error.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.index[key]
	if !ok {
		return nil
	}
	delete(s.index, key)

	if err := os.Remove(filepath.Join(s.dir, obj.File)); err != nil && !os.IsNotExist(err) {
		return errors.Newf(errors.ErrCodeStorageWrite, "failed to delete %q from disk tier", key).
			WithComponent("tier.disk").WithOperation("delete").WithCause(err)
	}
	return s.saveIndexLocked()
}

// ListPresent returns all indexed keys, sorted.
func (s *DiskStore) ListPresent(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Checksum returns the recorded payload checksum without touching the file.
func (s *DiskStore) Checksum(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	obj, ok := s.index[key]
	s.mu.RUnlock()

	if !ok {
		return 0, errors.Newf(errors.ErrCodeObjectNotFound, "key %q not in disk tier", key).
			WithComponent("tier.disk").WithOperation("checksum")
	}
	return obj.Checksum, nil
}

// StoredBytes reports the on-disk footprint of all objects.
func (s *DiskStore) StoredBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, obj := range s.index {
		total += obj.StoredSize
	}
	return total
}

// Close releases the compression codecs.
func (s *DiskStore) Close() error {
	if s.encoder != nil {
		if err := s.encoder.Close(); err != nil {
			return err
		}
	}
	s.decoder.Close()
	return nil
}
