// Package compress provides the zstd codec used for on-disk cache entries.
//
// Cached analysis results are JSON and compress well; zstd gives a good
// balance of ratio and speed for the small payloads involved. Encoders and
// decoders are pooled for reuse across entries.
package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
)

// Level represents compression level.
type Level int

const (
	// LevelFastest prioritizes speed over compression ratio.
	LevelFastest Level = 1

	// LevelDefault is the default compression level (good balance).
	LevelDefault Level = 3

	// LevelBest provides maximum compression (slowest).
	LevelBest Level = 9
)

// Codec compresses and decompresses cache entry payloads.
type Codec struct {
	level Level

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewCodec creates a zstd codec at the given level.
func NewCodec(level Level) *Codec {
	if level <= 0 {
		level = LevelDefault
	}

	c := &Codec{level: level}
	c.encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(level))))
			return enc
		},
	}
	c.decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
	return c
}

// Level returns the configured compression level.
func (c *Codec) Level() Level {
	return c.level
}

// Encode compresses data.
func (c *Codec) Encode(data []byte) []byte {
	enc := c.encoderPool.Get().(*zstd.Encoder)
	defer c.encoderPool.Put(enc)

	return enc.EncodeAll(data, nil)
}

// Decode decompresses data produced by Encode.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	const op = "compress.Codec.Decode"

	dec := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(dec)

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.E(errors.KindInternal, op, "zstd decompress", err)
	}
	return out, nil
}
