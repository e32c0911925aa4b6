package transports

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ReplayTransport plays back a recorded byte stream as if it came from the
// bus. Writes are accepted and discarded, so a replayed session can be
// decoded with the same receive path as a live one.
type ReplayTransport struct {
	r       io.Reader
	closer  io.Closer
	written int
	closed  bool
}

// NewReplay replays the bytes read from r.
func NewReplay(r io.Reader) *ReplayTransport {
	t := &ReplayTransport{r: r}
	if c, ok := r.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// NewReplayBytes replays a fixed byte slice.
func NewReplayBytes(data []byte) *ReplayTransport {
	return NewReplay(bytes.NewReader(data))
}

// OpenReplay replays the raw contents of a file.
func OpenReplay(path string) (*ReplayTransport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	return NewReplay(f), nil
}

// Read returns io.EOF once the stream is exhausted, which the bus reads as
// silence.
func (t *ReplayTransport) Read(p []byte) (int, error) {
	if t.closed {
		return 0, os.ErrClosed
	}
	n, err := t.r.Read(p)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

func (t *ReplayTransport) Write(p []byte) (int, error) {
	if t.closed {
		return 0, os.ErrClosed
	}
	t.written += len(p)
	return len(p), nil
}

func (t *ReplayTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *ReplayTransport) SetReadTimeout(time.Duration) error {
	return nil
}

// Flush is a no-op; dropping input would lose recorded replies.
func (t *ReplayTransport) Flush() error {
	return nil
}

// Written returns the number of bytes written and discarded so far.
func (t *ReplayTransport) Written() int {
	return t.written
}
