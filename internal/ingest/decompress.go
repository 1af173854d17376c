package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, '7', 'z', 'X'}
)

// detectAndDecompress wraps r in the right decompressor by sniffing its
// leading magic bytes (gzip, zstd, xz); anything else passes through
// unchanged, covering a plain-text XMLTV body.
func detectAndDecompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("peek source magic bytes: %w", err)
	}

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := kgzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return gz, nil
	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	case bytes.HasPrefix(magic, xzMagic):
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		return xzr, nil
	default:
		return br, nil
	}
}
