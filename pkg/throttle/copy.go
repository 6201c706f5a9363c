package throttle

import (
	"context"
	"errors"
	"io"
)

// DefaultCopyBufferSize is the chunk size Copy uses when none is given.
const DefaultCopyBufferSize = 32 * 1024

const maxEmptyReads = 100

// minChunkSize keeps chunks from shrinking to a few bytes under very low
// rates.
const minChunkSize = 1024

// ChunkSize returns a Copy buffer size no larger than the sleep threshold of
// any limited config, so each chunk is issued as soon as it is granted. Nil
// and unlimited configs are ignored.
func ChunkSize(configs ...*RateConfig) int {
	size := uint64(DefaultCopyBufferSize)
	for _, c := range configs {
		if c != nil && !c.Unlimited() {
			size = min(size, max(c.SleepThreshold(), minChunkSize))
		}
	}
	return int(size)
}

// Copy moves data from the read side of s to its write side until the read
// side reports end of data, flushing after every chunk. Both sides are
// paced by their own limits. ctx is checked between chunks, so a
// cancellation takes effect once the chunk in flight is done.
//
// Copy returns the number of bytes written and the first error, which is
// never io.EOF.
func Copy(ctx context.Context, s *Stream, bufSize int) (int64, error) {
	if bufSize <= 0 {
		bufSize = DefaultCopyBufferSize
	}
	buf := make([]byte, bufSize)

	var written int64
	empty := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := s.Read(buf)
		if n == 0 && rerr == nil {
			if empty++; empty >= maxEmptyReads {
				return written, io.ErrNoProgress
			}
			continue
		}
		empty = 0
		if n > 0 {
			w, werr := s.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if ferr := s.Flush(); ferr != nil {
				return written, ferr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}
