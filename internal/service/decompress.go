package service

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression is the container format of an imported file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionXZ
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionXZ:
		return "xz"
	default:
		return "none"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
)

// DetectCompression sniffs the magic bytes at the start of r without
// consuming them.
func DetectCompression(r *bufio.Reader) (Compression, error) {
	header, err := r.Peek(len(xzMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return CompressionNone, err
	}
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionGzip, nil
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionZstd, nil
	case bytes.HasPrefix(header, xzMagic):
		return CompressionXZ, nil
	}
	return CompressionNone, nil
}

// Decompress reads r to the end, transparently undoing gzip, zstd or xz.
func Decompress(r io.Reader) ([]byte, Compression, error) {
	br := bufio.NewReader(r)
	kind, err := DetectCompression(br)
	if err != nil {
		return nil, kind, fmt.Errorf("detect compression: %w", err)
	}

	var src io.Reader = br
	switch kind {
	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, kind, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		src = gz
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, kind, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		src = zr
	case CompressionXZ:
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, kind, fmt.Errorf("xz reader: %w", err)
		}
		src = xr
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, kind, fmt.Errorf("decompress %s: %w", kind, err)
	}
	return data, kind, nil
}
