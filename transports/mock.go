package transports

import (
	"bytes"
	"io"
	"time"
)

// MockTransport implements Transport for testing.
//
// Bytes in ReadData are handed out to Read in order; an empty ReadData reads
// as io.EOF, which the bus treats as "nothing yet". When Respond is set it is
// called with every written packet and its return value is queued as the
// reply, which mimics a servo answering on a half-duplex line.
type MockTransport struct {
	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	Writes      [][]byte
	Closed      bool
	ReadTimeout time.Duration
	Flushes     int

	// Respond produces the reply to a written packet. A nil reply is silence.
	Respond func(packet []byte) []byte

	// ReadFunc allows custom read behavior for complex tests
	ReadFunc func(p []byte) (int, error)
}

// NewMockTransport returns a mock preloaded with the given replies.
func NewMockTransport(replies ...[]byte) *MockTransport {
	return &MockTransport{ReadData: bytes.Join(replies, nil)}
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	m.Writes = append(m.Writes, bytes.Clone(p))
	if m.Respond != nil {
		m.ReadData = append(m.ReadData, m.Respond(bytes.Clone(p))...)
	}
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) Flush() error {
	m.Flushes++
	// Don't clear ReadData - tests need to preserve mock response data
	return nil
}

// Reset clears recorded writes.
func (m *MockTransport) Reset() {
	m.WriteData = nil
	m.Writes = nil
}
