package ingest

import (
	"bytes"
	"context"
	"io"
)

const downloadChunkSize = 64 * 1024

// readAllWithProgress reads body to completion, invoking onChunk after every
// chunk with cumulative bytes read and the total the caller passed in
// (-1 or 0 when the length is unknown), and
// returning early with ctx.Err() if ctx is cancelled mid-download.
func readAllWithProgress(ctx context.Context, body io.Reader, total int64, onChunk func(read, total int64)) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, downloadChunkSize)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if onChunk != nil {
				onChunk(int64(buf.Len()), total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
