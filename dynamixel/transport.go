package dynamixel

import (
	"io"
	"time"
)

// Transport is the byte channel to the servo bus.
//
// A Read that returns no bytes, either with a nil error or io.EOF, means
// nothing has arrived yet; the bus polls again until its silence timeout
// expires. Any other read error aborts the transaction.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long a single Read may block.
	SetReadTimeout(timeout time.Duration) error

	// Flush discards any buffered input data.
	Flush() error
}
