// Package codec compresses history snapshots that are only needed for
// reversal. Compaction runs lazily off the edit path.
package codec

import (
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	derrors "github.com/dshills/easel/internal/errors"
)

// DefaultLevel is the zstd level used when none is configured.
const DefaultLevel = 3

// Codec is a reusable zstd encoder/decoder pair. It is safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a codec at the given zstd level (1-22).
func New(level int) (*Codec, error) {
	if level <= 0 {
		level = DefaultLevel
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("codec: encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("codec: decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode compresses src.
func (c *Codec) Encode(src []byte) []byte {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/4))
}

// Decode decompresses src.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return out, nil
}

// Close releases the codec's resources.
func (c *Codec) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

// Snapshot is an immutable byte buffer that may be compressed in place.
type Snapshot struct {
	mu     sync.Mutex
	raw    []byte
	packed []byte
	size   int
	codec  *Codec
}

// NewSnapshot wraps data. The snapshot takes ownership of data; callers must
// not modify it afterwards. codec may be nil, which disables compaction.
func NewSnapshot(data []byte, codec *Codec) *Snapshot {
	return &Snapshot{raw: data, size: len(data), codec: codec}
}

// Bytes returns the snapshot contents. The result must not be modified.
func (s *Snapshot) Bytes() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.packed == nil {
		return s.raw, nil
	}
	out, err := s.codec.Decode(s.packed)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %v: %w", err, derrors.ErrInvariant)
	}
	return out, nil
}

// Len returns the uncompressed length.
func (s *Snapshot) Len() int {
	return s.size
}

// Stored returns the number of bytes currently held.
func (s *Snapshot) Stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.packed != nil {
		return len(s.packed)
	}
	return len(s.raw)
}

// Compacted returns true once the snapshot is held compressed.
func (s *Snapshot) Compacted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packed != nil
}

// Compact compresses the snapshot. It is a no-op without a codec or when
// already compacted. A cancelled ctx aborts before any work.
func (s *Snapshot) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("compact snapshot: %w", derrors.ErrAborted)
	}
	s.mu.Lock()
	if s.codec == nil || s.packed != nil {
		s.mu.Unlock()
		return nil
	}
	raw := s.raw
	s.mu.Unlock()

	packed := s.codec.Encode(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.packed == nil {
		s.packed = packed
		s.raw = nil
	}
	return nil
}
