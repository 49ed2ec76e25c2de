package tree

import (
	"io"
	"sync/atomic"
)

// Wraps an [io.Reader] and counts the bytes read through it.
//
// The count is read with [countingReader.Count] and is safe to read from
// another goroutine while the stream is being consumed.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

// Creates a new [countingReader] wrapping the given reader.
func newCountingReader(r io.Reader) *countingReader {
	return &countingReader{r: r}
}

// Delegates to the underlying reader, accumulating the byte count.
func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Returns the number of bytes read so far.
func (c *countingReader) Count() int64 {
	return c.n.Load()
}
