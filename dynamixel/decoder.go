package dynamixel

// Decoder accumulates status packet bytes one at a time.
type Decoder struct {
	protocol Protocol
	state    DecodeState
	buffer   []byte
	rescan   bool
	dropped  int
}

// NewDecoder creates a decoder for protocol. With rescan set, a malformed
// packet only costs its first byte and the rest of the buffer is searched
// for a new header; otherwise the whole buffer is discarded.
func NewDecoder(protocol Protocol, rescan bool) *Decoder {
	return &Decoder{
		protocol: protocol,
		state:    StateEmpty,
		buffer:   make([]byte, 0, 64),
		rescan:   rescan,
	}
}

// Reset discards any partial packet.
func (d *Decoder) Reset() {
	d.state = StateEmpty
	d.buffer = d.buffer[:0]
}

// State returns the state reached after the last byte.
func (d *Decoder) State() DecodeState {
	return d.state
}

// Buffered returns the bytes of the packet in progress.
func (d *Decoder) Buffered() []byte {
	return d.buffer
}

// Dropped returns the number of bytes discarded since the decoder was created.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// DecodeByte feeds one byte to the decoder. It returns the packet once the
// byte completes one, nil while more bytes are needed, and a *FramingError
// or *CRCError when the buffered bytes cannot form a valid packet.
func (d *Decoder) DecodeByte(b byte) (*StatusPacket, error) {
	d.buffer = append(d.buffer, b)

	state, pkt, err := d.protocol.Decode(d.buffer)
	switch state {
	case StateDone:
		pkt = d.take(pkt)
		d.state = StateDone
		return pkt, nil
	case StateInvalid:
		if !d.rescan {
			d.dropped += len(d.buffer)
			d.Reset()
			d.state = StateInvalid
			return nil, err
		}
		if pkt := d.resync(); pkt != nil {
			return pkt, nil
		}
		d.state = StateInvalid
		return nil, err
	}

	d.state = state
	return nil, nil
}

// resync drops leading bytes until the buffer is a plausible packet prefix.
// A packet completed by the remaining bytes is returned.
func (d *Decoder) resync() *StatusPacket {
	for len(d.buffer) > 0 {
		d.buffer = d.buffer[1:]
		d.dropped++

		state, pkt, _ := d.protocol.Decode(d.buffer)
		switch state {
		case StateDone:
			return d.take(pkt)
		case StateEmpty, StateAccumulating:
			// Keep the backing array from growing past the packet in progress.
			d.buffer = append(make([]byte, 0, cap(d.buffer)), d.buffer...)
			return nil
		}
	}
	return nil
}

// Next returns a packet already complete in the buffer without consuming
// input. After a rescan the buffer can hold bytes past the packet it
// returned, and those may form the next packet on their own.
func (d *Decoder) Next() *StatusPacket {
	if len(d.buffer) == 0 {
		return nil
	}
	state, pkt, _ := d.protocol.Decode(d.buffer)
	if state != StateDone {
		return nil
	}
	return d.take(pkt)
}

// take removes pkt from the front of the buffer, keeping whatever follows.
func (d *Decoder) take(pkt *StatusPacket) *StatusPacket {
	rest := d.buffer[len(pkt.Raw):]
	d.buffer = append(make([]byte, 0, cap(d.buffer)), rest...)
	d.state = StateEmpty
	if len(d.buffer) > 0 {
		d.state = StateAccumulating
	}
	return pkt
}
