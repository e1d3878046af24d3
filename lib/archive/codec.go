// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the bundle compression algorithm. The codec is
// recorded in the index and recoverable from the bundle's file name,
// so a policy change never strands old bundles.
type Codec string

const (
	// CodecZstd is the default: best ratio at acceptable speed.
	CodecZstd Codec = "zstd"

	// CodecLZ4 trades ratio for speed. Useful when the watcher runs
	// on the same box as a latency-sensitive agent.
	CodecLZ4 Codec = "lz4"

	// CodecNone stores the tar stream as-is.
	CodecNone Codec = "none"
)

// encryptedSuffix marks age-encrypted bundles.
const encryptedSuffix = ".age"

// ParseCodec validates a configured codec name.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case CodecZstd, CodecLZ4, CodecNone:
		return Codec(name), nil
	default:
		return "", fmt.Errorf("unknown compression codec %q (want zstd, lz4, or none)", name)
	}
}

// extension returns the bundle file extension for the codec,
// including the tar part.
func (c Codec) extension() string {
	switch c {
	case CodecZstd:
		return ".tar.zst"
	case CodecLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

// bundleNameInfo recovers the codec and encryption flag from a bundle
// file name. Returns false for names that are not bundles.
func bundleNameInfo(name string) (codec Codec, encrypted bool, ok bool) {
	if strings.HasSuffix(name, encryptedSuffix) {
		encrypted = true
		name = strings.TrimSuffix(name, encryptedSuffix)
	}
	switch {
	case strings.HasSuffix(name, ".tar.zst"):
		return CodecZstd, encrypted, true
	case strings.HasSuffix(name, ".tar.lz4"):
		return CodecLZ4, encrypted, true
	case strings.HasSuffix(name, ".tar"):
		return CodecNone, encrypted, true
	default:
		return "", false, false
	}
}

// compress wraps w in the codec's stream compressor. The returned
// writer must be closed to flush the final frame before the
// underlying writer is closed.
func (c Codec) compress(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return encoder, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// decompress wraps r in the codec's stream decompressor.
func (c Codec) decompress(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
