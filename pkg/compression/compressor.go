// Package compression provides streaming compression for emitted layer files
// with multiple algorithms and configurable levels.
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip.
// Compression ratio (best to worst): Zstd > Gzip > Snappy/S2 > LZ4.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression.
	None Algorithm = "none"
	// Gzip represents gzip compression.
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression.
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression.
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression.
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (snappy compatible).
	S2 Algorithm = "s2"
)

// ParseAlgorithm maps a config string onto an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2:
		return Algorithm(s), nil
	}
	return None, fmt.Errorf("unknown compression algorithm %q", s)
}

// Compressor provides streaming and in-memory compression. Implementations
// are safe for concurrent use; writers returned by NewWriter are not.
type Compressor interface {
	// Compress compresses data in memory.
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses data in memory.
	Decompress(data []byte) ([]byte, error)
	// NewWriter wraps w with a compressing writer. Close flushes the frame.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader wraps r with a decompressing reader.
	NewReader(r io.Reader) (io.ReadCloser, error)
	// Algorithm returns the configured algorithm.
	Algorithm() Algorithm
	// Extension returns the file suffix for emitted files ("" for none).
	Extension() string
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     int // 1 (fastest) to 9 (best); algorithms clamp as needed
}

// NewCompressor creates a compressor for the configuration. A nil config
// yields the no-op compressor.
func NewCompressor(cfg *Config) (Compressor, error) {
	if cfg == nil {
		cfg = &Config{Algorithm: None}
	}
	level := cfg.Level
	if level <= 0 {
		level = 5
	}
	if level > 9 {
		level = 9
	}

	switch cfg.Algorithm {
	case None, "":
		return &compressor{algorithm: None, level: level}, nil
	case Gzip, Snappy, LZ4, Zstd, S2:
		return &compressor{algorithm: cfg.Algorithm, level: level}, nil
	}
	return nil, fmt.Errorf("unknown compression algorithm %q", cfg.Algorithm)
}

type compressor struct {
	algorithm Algorithm
	level     int
}

func (c *compressor) Algorithm() Algorithm { return c.algorithm }

func (c *compressor) Extension() string {
	switch c.algorithm {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".snappy"
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	case S2:
		return ".s2"
	}
	return ""
}

func (c *compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c.algorithm {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, c.level)
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(c.level))); err != nil {
			return nil, err
		}
		return zw, nil
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
	case S2:
		return s2.NewWriter(w), nil
	}
	return nil, fmt.Errorf("unknown compression algorithm %q", c.algorithm)
}

func (c *compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c.algorithm {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	}
	return nil, fmt.Errorf("unknown compression algorithm %q", c.algorithm)
}

func (c *compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *compressor) Decompress(data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// lz4Level maps the generic 1-9 scale onto lz4 levels. Levels at or below 2
// use the fast path.
func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 2:
		return lz4.Fast
	case level == 3:
		return lz4.Level3
	case level == 4:
		return lz4.Level4
	case level == 5:
		return lz4.Level5
	case level == 6:
		return lz4.Level6
	case level == 7:
		return lz4.Level7
	case level == 8:
		return lz4.Level8
	default:
		return lz4.Level9
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
