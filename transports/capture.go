package transports

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Port is the method set every transport in this package implements.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
	Flush() error
}

// Direction tells which way a captured frame travelled.
type Direction uint8

const (
	DirTx Direction = 1 // host to servos
	DirRx Direction = 2 // servos to host
)

func (d Direction) String() string {
	switch d {
	case DirTx:
		return "tx"
	case DirRx:
		return "rx"
	}
	return fmt.Sprintf("dir(%d)", uint8(d))
}

// Frame is one chunk of bus traffic. Offset is measured from the start of
// the capture.
type Frame struct {
	Dir    Direction     `cbor:"1,keyasint"`
	Offset time.Duration `cbor:"2,keyasint"`
	Data   []byte        `cbor:"3,keyasint"`
}

// Recorder wraps a Port and writes every chunk read or written to w as a
// stream of CBOR-encoded frames.
type Recorder struct {
	Port

	mu    sync.Mutex
	enc   *cbor.Encoder
	start time.Time
	err   error
}

// NewRecorder starts capturing the traffic of p into w.
func NewRecorder(p Port, w io.Writer) *Recorder {
	return &Recorder{
		Port:  p,
		enc:   cbor.NewEncoder(w),
		start: time.Now(),
	}
}

func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.Port.Read(p)
	if n > 0 {
		r.record(DirRx, p[:n])
	}
	return n, err
}

func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.Port.Write(p)
	if n > 0 {
		r.record(DirTx, p[:n])
	}
	return n, err
}

// Err returns the first error hit while writing the capture. Traffic keeps
// flowing after a capture error; only the recording stops.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) record(dir Direction, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	frame := Frame{
		Dir:    dir,
		Offset: time.Since(r.start),
		Data:   append([]byte(nil), data...),
	}
	if err := r.enc.Encode(frame); err != nil {
		r.err = fmt.Errorf("failed to write capture frame: %w", err)
	}
}

// ReadCapture decodes every frame of a capture stream.
func ReadCapture(r io.Reader) ([]Frame, error) {
	dec := cbor.NewDecoder(r)
	var frames []Frame
	for {
		var f Frame
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("failed to decode capture frame %d: %w", len(frames), err)
		}
		frames = append(frames, f)
	}
}

// LoadCapture reads a capture file.
func LoadCapture(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()
	return ReadCapture(f)
}

// Received concatenates the data of every frame read from the servos.
func Received(frames []Frame) []byte {
	var out []byte
	for _, f := range frames {
		if f.Dir == DirRx {
			out = append(out, f.Data...)
		}
	}
	return out
}
